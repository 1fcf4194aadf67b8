package unsubscribe

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// hideWebdriver runs before any page script so automation is not
// advertised through navigator.webdriver.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// listElements records every button and link on window.__mailsweepElements
// and returns their labels. Buttons come first, then links.
const listElements = `(() => {
  const label = (el) => (el.innerText || el.value || el.getAttribute('aria-label') || el.title || '').trim();
  const buttons = [...document.querySelectorAll('button, input[type=submit], input[type=button], [role=button]')];
  const links = [...document.querySelectorAll('a[href]')].filter((el) => !buttons.includes(el));
  window.__mailsweepElements = buttons.concat(links);
  return window.__mailsweepElements.map((el, i) => ({
    index: i,
    kind: i < buttons.length ? 'button' : 'link',
    text: label(el),
  }));
})()`

// ChromeOptions configures ChromeBrowser.
type ChromeOptions struct {
	Headless bool

	// ExecPath overrides the browser binary lookup.
	ExecPath string

	Width, Height int
}

// ChromeBrowser launches a fresh headless Chrome process per page so no
// cookies or storage leak between attempts.
type ChromeBrowser struct {
	opts ChromeOptions
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser creates a Browser backed by chromedp.
func NewChromeBrowser(opts ChromeOptions) *ChromeBrowser {
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1280, 900
	}
	return &ChromeBrowser{opts: opts}
}

func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("incognito", true),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(b.opts.Width, b.opts.Height),
	)
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	// The browser outlives the call that launches it; Close ends it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &chromePage{ctx: tabCtx, cancel: func() {
		cancelTab()
		cancelAlloc()
	}}

	// The first Run starts the process and binds it to its context, so it
	// must be the tab context itself.
	if err := chromedp.Run(tabCtx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	}))
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("installing page script: %w", err)
	}
	return p, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by the caller's context.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

type jsElement struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Text  string `json:"text"`
}

func (p *chromePage) Elements(ctx context.Context) ([]Element, error) {
	var found []jsElement
	if err := p.run(ctx, chromedp.Evaluate(listElements, &found)); err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, Element{Index: el.Index, Kind: el.Kind, Text: el.Text})
	}
	return elements, nil
}

func (p *chromePage) Click(ctx context.Context, el Element) error {
	script := fmt.Sprintf(`(() => { window.__mailsweepElements[%d].click(); return true; })()`, el.Index)
	var clicked bool
	return p.run(ctx,
		chromedp.Evaluate(script, &clicked),
		// Give a navigation triggered by the click a moment to start.
		chromedp.Sleep(250*time.Millisecond),
	)
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
