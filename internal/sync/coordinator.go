// Package sync ingests new mail from connected accounts.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailsweep/internal/ai"
	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/normalize"
	"github.com/nhle/mailsweep/internal/source"
	"github.com/nhle/mailsweep/internal/store"
	"github.com/nhle/mailsweep/internal/unsubscribe"
)

const (
	// DefaultLookback is how far back the first sync of an account reaches.
	DefaultLookback = 24 * time.Hour

	// DefaultMaxAttempts is how many runs may fail on one message before
	// it stops holding back the watermark.
	DefaultMaxAttempts = 3
)

// ErrSyncInProgress is returned when an account is already being synced.
var ErrSyncInProgress = errors.New("sync already in progress for account")

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mailsweep_sync_messages_total",
	Help: "Messages seen by the sync coordinator by outcome.",
}, []string{"outcome"})

// Clients opens provider sessions for stored accounts.
type Clients interface {
	GetClient(ctx context.Context, accountID string) (source.Source, error)
}

// Classifier assigns categories and summaries.
type Classifier interface {
	Classify(ctx context.Context, msg *model.Message, categories []model.Category) (ai.Classification, error)
	Summarize(ctx context.Context, msg *model.Message) (string, error)
}

// Store is the persistence the coordinator needs.
type Store interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListActiveAccounts(ctx context.Context) ([]model.Account, error)
	AdvanceWatermark(ctx context.Context, id string, at time.Time) error
	ExistingExternalIDs(ctx context.Context, accountID string, externalIDs []string) (map[string]bool, error)
	InsertMessage(ctx context.Context, msg *model.Message) error
	RecordIngestFailure(ctx context.Context, accountID, externalID, reason string) (int, error)
	MarkArchived(ctx context.Context, id string) error
	CategoriesForUser(ctx context.Context, userID string) ([]model.Category, error)
}

// AccountResult summarizes one account sync.
type AccountResult struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email,omitempty"`

	// NewMessages counts rows actually inserted by this run.
	NewMessages int `json:"newEmails"`
	Duplicates  int `json:"duplicates"`
	Archived    int `json:"archived"`
	Failed      int `json:"failed"`

	// Abandoned counts messages that failed too many times to retry.
	Abandoned int `json:"abandoned"`

	Error string `json:"error,omitempty"`
}

// Summary is the outcome of a sync-all run.
type Summary struct {
	TotalAccounts  int             `json:"totalAccounts"`
	TotalNewEmails int             `json:"totalNewEmails"`
	Results        []AccountResult `json:"results"`
}

// Options configures a Coordinator.
type Options struct {
	Lookback    time.Duration
	Parallelism int
	MaxAttempts int
}

// Coordinator runs the ingest pipeline. Messages of one account are
// handled one at a time; different accounts may sync concurrently.
type Coordinator struct {
	store       Store
	clients     Clients
	classifier  Classifier
	lookback    time.Duration
	parallelism int
	maxAttempts int
	now         func() time.Time
	logger      zerolog.Logger

	mu       gosync.Mutex
	inFlight map[string]bool
}

// NewCoordinator creates a Coordinator. classifier may be nil, in which
// case messages are stored unclassified.
func NewCoordinator(s Store, clients Clients, classifier Classifier, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Coordinator{
		store:       s,
		clients:     clients,
		classifier:  classifier,
		lookback:    opts.Lookback,
		parallelism: opts.Parallelism,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
		logger:      logger.With().Str("component", "sync").Logger(),
		inFlight:    make(map[string]bool),
	}
}

// SyncAll syncs every active account. A failing account is reported in
// its result and never stops the others.
func (c *Coordinator) SyncAll(ctx context.Context) (*Summary, error) {
	accounts, err := c.store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}

	results := make([]AccountResult, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			res, err := c.SyncAccount(gctx, account.ID)
			if err != nil {
				res.Error = apperr.UserMessage(err)
			}
			res.Email = account.Email
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{TotalAccounts: len(accounts), Results: results}
	for _, r := range results {
		summary.TotalNewEmails += r.NewMessages
	}
	return summary, nil
}

// SyncAccount fetches and stores the messages received since the account
// watermark. The watermark moves to the start of this run only when every
// listed message was stored, already present or abandoned after
// MaxAttempts failed runs.
func (c *Coordinator) SyncAccount(ctx context.Context, accountID string) (AccountResult, error) {
	result := AccountResult{AccountID: accountID}

	if !c.acquire(accountID) {
		return result, ErrSyncInProgress
	}
	defer c.release(accountID)

	logger := c.logger.With().Str("account_id", accountID).Logger()
	started := c.now().UTC()

	err := c.syncAccount(ctx, accountID, started, &result, logger)
	if err != nil {
		logger.Error().Err(err).Msg("account sync failed")
		return result, err
	}

	logger.Info().
		Int("new", result.NewMessages).
		Int("duplicates", result.Duplicates).
		Int("archived", result.Archived).
		Int("failed", result.Failed).
		Int("abandoned", result.Abandoned).
		Msg("account synced")
	return result, nil
}

func (c *Coordinator) syncAccount(ctx context.Context, accountID string, started time.Time, result *AccountResult, logger zerolog.Logger) error {
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	result.Email = account.Email

	src, err := c.clients.GetClient(ctx, accountID)
	if err != nil {
		return err
	}

	since := started.Add(-c.lookback)
	if account.LastSyncedAt != nil {
		since = *account.LastSyncedAt
	}

	ids, err := src.List(ctx, since)
	if err != nil {
		return fmt.Errorf("listing messages since %s: %w", since.Format(time.RFC3339), err)
	}

	existing, err := c.store.ExistingExternalIDs(ctx, accountID, ids)
	if err != nil {
		return err
	}

	categories := c.categories(ctx, account, logger)

	for _, id := range ids {
		if existing[id] {
			result.Duplicates++
			messagesTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.ingest(ctx, src, account, id, categories, result, logger)
	}

	if result.Failed > 0 {
		logger.Warn().Int("failed", result.Failed).Msg("watermark kept so failed messages are retried")
		return nil
	}
	return c.store.AdvanceWatermark(ctx, accountID, started)
}

// ingest runs one message through fetch, normalize, detect, classify,
// persist and archive.
func (c *Coordinator) ingest(
	ctx context.Context,
	src source.Source,
	account *model.Account,
	externalID string,
	categories []model.Category,
	result *AccountResult,
	logger zerolog.Logger,
) {
	logger = logger.With().Str("external_id", externalID).Logger()

	raw, err := src.Get(ctx, externalID)
	if err != nil {
		logger.Warn().Err(err).Msg("fetching message failed")
		c.fail(ctx, account.ID, externalID, err, result, logger)
		return
	}

	norm := normalize.Normalize(raw)
	msg := norm.Message
	msg.AccountID = account.ID
	applyDetection(&msg, detect(norm))

	c.enrich(ctx, &msg, categories, logger)

	if err := c.store.InsertMessage(ctx, &msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			result.Duplicates++
			messagesTotal.WithLabelValues("duplicate").Inc()
			return
		}
		logger.Error().Err(err).Msg("storing message failed")
		c.fail(ctx, account.ID, externalID, err, result, logger)
		return
	}
	result.NewMessages++
	messagesTotal.WithLabelValues("ingested").Inc()

	if err := src.Archive(ctx, externalID); err != nil {
		logger.Warn().Err(err).Str("message_id", msg.ID).Msg("archiving message failed")
		return
	}
	if err := c.store.MarkArchived(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Str("message_id", msg.ID).Msg("recording archive failed")
		return
	}
	result.Archived++
}

// fail counts a failed ingest. A message that has failed on maxAttempts
// runs is abandoned so it no longer holds back the watermark.
func (c *Coordinator) fail(ctx context.Context, accountID, externalID string, cause error, result *AccountResult, logger zerolog.Logger) {
	attempts, err := c.store.RecordIngestFailure(ctx, accountID, externalID, cause.Error())
	if err != nil {
		logger.Error().Err(err).Msg("recording ingest failure")
	}
	if err == nil && attempts >= c.maxAttempts {
		logger.Error().Err(cause).Int("attempts", attempts).Msg("giving up on message")
		result.Abandoned++
		messagesTotal.WithLabelValues("abandoned").Inc()
		return
	}
	result.Failed++
	messagesTotal.WithLabelValues("failed").Inc()
}

// enrich adds a category and summary. Failures leave the fields empty.
func (c *Coordinator) enrich(ctx context.Context, msg *model.Message, categories []model.Category, logger zerolog.Logger) {
	if c.classifier == nil {
		return
	}

	if len(categories) >= ai.MinCategories {
		cls, err := c.classifier.Classify(ctx, msg, categories)
		if err != nil {
			logger.Warn().Err(err).Msg("classification failed")
		} else {
			msg.CategoryID = cls.CategoryID
		}
	}

	summary, err := c.classifier.Summarize(ctx, msg)
	if err != nil {
		logger.Warn().Err(err).Msg("summary failed")
		return
	}
	msg.Summary = &summary
}

func (c *Coordinator) categories(ctx context.Context, account *model.Account, logger zerolog.Logger) []model.Category {
	if c.classifier == nil {
		return nil
	}
	categories, err := c.store.CategoriesForUser(ctx, account.UserID)
	if err != nil {
		logger.Warn().Err(err).Msg("loading categories failed")
		return nil
	}
	return categories
}

// detect picks the unsubscribe target. The body tier overrides the header
// when it is more confident.
func detect(norm normalize.Result) unsubscribe.Detection {
	body := unsubscribe.DetectBody(norm.Message.Body)
	header, ok := unsubscribe.DetectHeader(norm.ListUnsubscribe)
	if !ok || body.Confidence > header.Confidence {
		return body
	}
	return header
}

func applyDetection(msg *model.Message, d unsubscribe.Detection) {
	msg.UnsubscribeTarget = d.Target
	msg.UnsubscribeMethod = d.Method
	if d.Target == "" {
		msg.UnsubscribeMethod = model.UnsubscribeNone
	}
}

func (c *Coordinator) acquire(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[accountID] {
		return false
	}
	c.inFlight[accountID] = true
	return true
}

func (c *Coordinator) release(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, accountID)
}
