package unsubscribe

import (
	"context"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/store"
)

var resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mailsweep_unsubscribe_results_total",
	Help: "Unsubscribe executions by method and terminal status.",
}, []string{"method", "status"})

// Runner executes one unsubscribe target.
type Runner interface {
	Execute(ctx context.Context, attemptID, target string) Result
}

// Store is what the service persists through.
type Store interface {
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	store.AttemptStore
}

// Outcome pairs an attempt record with the execution result.
type Outcome struct {
	Attempt *model.UnsubscribeAttempt `json:"attempt"`
	Success bool                      `json:"success"`
	Method  model.ExecutionMethod     `json:"method"`
	Message string                    `json:"message"`

	// Kind classifies a failure the caller can act on, e.g. a page that
	// needs a human.
	Kind apperr.Kind `json:"kind,omitempty"`

	Artifacts []string `json:"artifacts,omitempty"`
}

// BulkItem is the outcome for one message of a bulk request.
type BulkItem struct {
	MessageID string   `json:"messageId"`
	Outcome   *Outcome `json:"outcome,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Service records attempts around executions.
type Service struct {
	store     Store
	runner    Runner
	bulkDelay time.Duration
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(s Store, runner Runner, bulkDelay time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:     s,
		runner:    runner,
		bulkDelay: bulkDelay,
		logger:    logger.With().Str("component", "unsubscribe_service").Logger(),
	}
}

// Unsubscribe executes the stored target of a message. The attempt is
// recorded as pending first and completed whatever the result. Cancelling
// ctx does not interrupt a running execution.
func (s *Service) Unsubscribe(ctx context.Context, messageID string) (*Outcome, error) {
	outcome, _, err := s.unsubscribe(ctx, messageID)
	return outcome, err
}

func (s *Service) unsubscribe(ctx context.Context, messageID string) (*Outcome, bool, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.UnsubscribeMethod == model.UnsubscribeNone || msg.UnsubscribeTarget == "" {
		return nil, false, apperr.New(apperr.KindNotFound, "unsubscribe.Unsubscribe", "message has no unsubscribe target")
	}

	attempt := &model.UnsubscribeAttempt{
		MessageID: msg.ID,
		Method:    model.MethodHeader,
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return nil, false, err
	}

	runCtx := context.WithoutCancel(ctx)
	result := s.runner.Execute(runCtx, attempt.ID, msg.UnsubscribeTarget)

	kind := apperr.KindOf(result.Err)
	attempt.Method = result.Method
	attempt.Status = model.AttemptFailed
	if result.Success {
		attempt.Status = model.AttemptSuccess
	} else {
		message := result.Message
		attempt.Error = &message
		if kind != "" {
			k := string(kind)
			attempt.ErrorKind = &k
		}
	}
	attempt.Artifacts = model.ArtifactRefs(result.Artifacts)
	if evidence, ok := lastScreenshot(result.Artifacts); ok {
		attempt.Evidence = &evidence
	}
	if err := s.store.CompleteAttempt(runCtx, attempt); err != nil {
		return nil, result.ReachedTier2, err
	}

	resultsTotal.WithLabelValues(string(result.Method), string(attempt.Status)).Inc()

	return &Outcome{
		Attempt:   attempt,
		Success:   result.Success,
		Method:    result.Method,
		Message:   result.Message,
		Kind:      kind,
		Artifacts: result.Artifacts,
	}, result.ReachedTier2, nil
}

func lastScreenshot(refs []string) (string, bool) {
	for i := len(refs) - 1; i >= 0; i-- {
		if path.Ext(refs[i]) == ".png" {
			return refs[i], true
		}
	}
	return "", false
}

// Bulk unsubscribes each message in order. A failure on one message does
// not stop the rest. The delay separates successive browser runs.
func (s *Service) Bulk(ctx context.Context, messageIDs []string) ([]BulkItem, error) {
	items := make([]BulkItem, 0, len(messageIDs))
	pendingDelay := false

	for _, id := range messageIDs {
		if pendingDelay {
			if err := sleep(ctx, s.bulkDelay); err != nil {
				return items, err
			}
		}

		outcome, reachedTier2, err := s.unsubscribe(ctx, id)
		pendingDelay = reachedTier2

		item := BulkItem{MessageID: id, Outcome: outcome}
		if err != nil {
			s.logger.Warn().Err(err).Str("message_id", id).Msg("bulk unsubscribe item failed")
			item.Error = apperr.UserMessage(err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Latest returns the authoritative attempt for a message.
func (s *Service) Latest(ctx context.Context, messageID string) (*model.UnsubscribeAttempt, error) {
	return s.store.LatestAttempt(ctx, messageID)
}
