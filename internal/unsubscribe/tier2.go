package unsubscribe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Element is a clickable element on a rendered page.
type Element struct {
	// Index identifies the element to Page.Click.
	Index int

	// Kind is "button" or "link".
	Kind string

	Text string
}

// Browser launches isolated pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is one isolated browser context. Close must release every
// process the page holds.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Text(ctx context.Context) (string, error)

	// HTML serializes the current DOM.
	HTML(ctx context.Context) (string, error)

	// Elements lists buttons first, then links, each in document order.
	Elements(ctx context.Context) ([]Element, error)
	Click(ctx context.Context, el Element) error
	Close() error
}

// Tier2 runs the browser fallback.
type Tier2 interface {
	Attempt(ctx context.Context, attemptID, target string) Tier2Result
}

// Tier2Options configures BrowserTier2.
type Tier2Options struct {
	NavigationTimeout time.Duration
	StepTimeout       time.Duration
	SettleInterval    time.Duration
}

// BrowserTier2 drives a Browser through navigate, inspect, click and
// verify, capturing a screenshot and a DOM snapshot at each stage.
type BrowserTier2 struct {
	browser   Browser
	artifacts ArtifactStore
	opts      Tier2Options
	logger    zerolog.Logger
}

// NewBrowserTier2 creates a Tier2.
func NewBrowserTier2(browser Browser, artifacts ArtifactStore, opts Tier2Options, logger zerolog.Logger) *BrowserTier2 {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	return &BrowserTier2{
		browser:   browser,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger.With().Str("component", "tier2").Logger(),
	}
}

// tier2Run carries the state of one browser run.
type tier2Run struct {
	*BrowserTier2
	attemptID string
	page      Page
	refs      []string
}

func (t *BrowserTier2) Attempt(ctx context.Context, attemptID, target string) (result Tier2Result) {
	logger := t.logger.With().Str("attempt_id", attemptID).Logger()

	page, err := t.browser.NewPage(ctx)
	if err != nil {
		return Tier2Result{Outcome: Tier2Fault, Err: fmt.Errorf("launching browser: %w", err)}
	}
	run := &tier2Run{BrowserTier2: t, attemptID: attemptID, page: page}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("browser run crashed")
			result = run.fault(ctx, fmt.Errorf("browser crashed: %v", rec))
		}
		if err := page.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing browser page")
		}
	}()

	return run.execute(ctx, target)
}

func (r *tier2Run) execute(ctx context.Context, target string) Tier2Result {
	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	err := r.page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return r.fault(ctx, fmt.Errorf("navigating to %s: %w", target, err))
	}

	if err := r.capture(ctx, "before"); err != nil {
		return r.fault(ctx, err)
	}

	text, err := r.text(ctx)
	if err != nil {
		return r.fault(ctx, err)
	}
	if blocker := firstMatch(blockerPatterns, text); blocker != "" {
		return Tier2Result{Outcome: Tier2Blocked, Blocker: blocker, Artifacts: r.refs}
	}

	el, ok, err := r.findActionable(ctx)
	if err != nil {
		return r.fault(ctx, err)
	}
	if !ok {
		return Tier2Result{Outcome: Tier2NoElement, Artifacts: r.refs}
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	err = r.page.Click(stepCtx, el)
	cancel()
	if err != nil {
		return r.fault(ctx, fmt.Errorf("clicking %q: %w", el.Text, err))
	}

	if err := sleep(ctx, r.opts.SettleInterval); err != nil {
		return r.fault(ctx, err)
	}

	if err := r.capture(ctx, "after"); err != nil {
		return r.fault(ctx, err)
	}

	text, err = r.text(ctx)
	if err != nil {
		return r.fault(ctx, err)
	}
	if matchesAny(confirmationPatterns, text) {
		return Tier2Result{Outcome: Tier2Confirmed, Clicked: el.Text, Artifacts: r.refs}
	}
	return Tier2Result{Outcome: Tier2Unconfirmed, Clicked: el.Text, Artifacts: r.refs}
}

// findActionable searches every button, then every link, trying the
// unsubscribe patterns in order for each kind.
func (r *tier2Run) findActionable(ctx context.Context) (Element, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	elements, err := r.page.Elements(stepCtx)
	if err != nil {
		return Element{}, false, fmt.Errorf("listing page elements: %w", err)
	}

	for _, kind := range []string{"button", "link"} {
		for _, pattern := range unsubscribePatterns {
			for _, el := range elements {
				if el.Kind == kind && pattern.MatchString(el.Text) {
					return el, true, nil
				}
			}
		}
	}
	return Element{}, false, nil
}

func (r *tier2Run) text(ctx context.Context) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	text, err := r.page.Text(stepCtx)
	if err != nil {
		return "", fmt.Errorf("reading page text: %w", err)
	}
	return text, nil
}

// capture saves a screenshot and a DOM snapshot for stage. Only the
// screenshot is required; a missing snapshot is logged.
func (r *tier2Run) capture(ctx context.Context, stage string) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	shot, err := r.page.Screenshot(stepCtx)
	if err != nil {
		return fmt.Errorf("capturing %s screenshot: %w", stage, err)
	}
	if err := r.save(ctx, stage+".png", shot); err != nil {
		return err
	}

	html, err := r.page.HTML(stepCtx)
	if err == nil {
		err = r.save(ctx, stage+".html", []byte(html))
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("attempt_id", r.attemptID).Str("stage", stage).Msg("could not capture DOM snapshot")
	}
	return nil
}

func (r *tier2Run) save(ctx context.Context, name string, data []byte) error {
	ref, err := r.artifacts.Save(ctx, r.attemptID, name, data)
	if err != nil {
		return err
	}
	r.refs = append(r.refs, ref)
	return nil
}

// fault ends the run after trying to capture the page as it failed.
func (r *tier2Run) fault(ctx context.Context, cause error) Tier2Result {
	if err := r.capture(ctx, "error"); err != nil {
		r.logger.Warn().Err(err).Str("attempt_id", r.attemptID).Msg("could not capture error artifact")
	}
	return Tier2Result{Outcome: Tier2Fault, Artifacts: r.refs, Err: cause}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
