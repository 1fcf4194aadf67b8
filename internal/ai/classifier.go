package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

// ConfidenceThreshold is the lowest confidence at which a category is
// kept.
const ConfidenceThreshold = 0.7

// MinCategories is how many categories a user needs before messages are
// classified.
const MinCategories = 2

// DefaultRetries caps retries of a malformed or failed reply.
const DefaultRetries = 3

// Classification is the gated result of Classify.
type Classification struct {
	// CategoryID is nil when the reply was not confident enough or named
	// no known category.
	CategoryID *string
	Confidence float64
	Reasoning  string
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	BodyPrefix int
	Retries    uint64
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Classifier orchestrates classification and summary requests.
type Classifier struct {
	completer Completer
	opts      ClassifierOptions
	logger    zerolog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(completer Completer, opts ClassifierOptions, logger zerolog.Logger) *Classifier {
	if opts.BodyPrefix <= 0 {
		opts.BodyPrefix = 2000
	}
	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 8 * opts.MinBackoff
	}
	return &Classifier{
		completer: completer,
		opts:      opts,
		logger:    logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify picks one of categories for msg. Fewer than MinCategories
// categories yields an empty classification without a request. Replies
// that cannot be parsed are retried; when retries run out the error is a
// classification error.
func (c *Classifier) Classify(ctx context.Context, msg *model.Message, categories []model.Category) (Classification, error) {
	if len(categories) < MinCategories {
		return Classification{}, nil
	}

	prompt := classifyPrompt(msg, categories, c.opts.BodyPrefix)

	var reply classifyReply
	err := c.withRetry(ctx, "classify", msg.ID, func(ctx context.Context) error {
		text, err := c.completer.Complete(ctx, classifySystem, prompt)
		if err != nil {
			return err
		}
		reply, err = parseClassifyReply(text)
		if err != nil {
			return apperr.Wrap(apperr.KindFormat, "ai.Classify", "malformed classification", err)
		}
		return nil
	})
	if err != nil {
		return Classification{}, apperr.Wrap(apperr.KindClassification, "ai.Classify", "could not classify message", err)
	}

	return gate(reply, categories), nil
}

// gate applies the confidence threshold and drops unknown category ids.
func gate(reply classifyReply, categories []model.Category) Classification {
	result := Classification{Confidence: *reply.Confidence, Reasoning: reply.Reasoning}
	if reply.CategoryID == nil || result.Confidence < ConfidenceThreshold {
		return result
	}
	for _, cat := range categories {
		if cat.ID == *reply.CategoryID {
			id := cat.ID
			result.CategoryID = &id
			break
		}
	}
	return result
}

// Summarize returns a short summary of msg. An empty reply is retried.
func (c *Classifier) Summarize(ctx context.Context, msg *model.Message) (string, error) {
	prompt := summaryPrompt(msg, c.opts.BodyPrefix)

	var summary string
	err := c.withRetry(ctx, "summarize", msg.ID, func(ctx context.Context) error {
		text, err := c.completer.Complete(ctx, summarizeSystem, prompt)
		if err != nil {
			return err
		}
		summary = strings.TrimSpace(text)
		if summary == "" {
			return apperr.New(apperr.KindFormat, "ai.Summarize", "empty summary")
		}
		return nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindClassification, "ai.Summarize", "could not summarize message", err)
	}
	return summary, nil
}

// withRetry retries malformed replies and transient failures. Auth and
// configuration errors end the loop at once.
func (c *Classifier) withRetry(ctx context.Context, op, messageID string, fn func(context.Context) error) error {
	backoff := retry.NewExponential(c.opts.MinBackoff)
	backoff = retry.WithCappedDuration(c.opts.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(c.opts.Retries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		c.logger.Warn().Err(err).
			Str("op", op).
			Str("message_id", messageID).
			Int("attempt", attempt).
			Msg("AI request failed, retrying")
		return retry.RetryableError(err)
	})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindTransient, apperr.KindFormat:
		return true
	default:
		return false
	}
}
