package queue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/nhle/mailsweep/internal/apperr"
)

const (
	// DefaultConcurrency bounds operations executing at once.
	DefaultConcurrency = 5

	// ReadRetries and MutateRetries cap retries after the first attempt.
	ReadRetries   = 3
	MutateRetries = 2
)

var (
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailsweep_queue_in_flight",
		Help: "Operations currently executing through the request queue",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsweep_queue_retries_total",
		Help: "Retries performed by the request queue",
	}, []string{"op"})
)

// Kind selects the retry cap applied to an operation.
type Kind int

const (
	// Read operations retry up to ReadRetries times.
	Read Kind = iota
	// Mutate operations retry up to MutateRetries times.
	Mutate
	// Once operations are admitted through the queue but never retried.
	Once
)

func (k Kind) retries() uint64 {
	switch k {
	case Read:
		return ReadRetries
	case Mutate:
		return MutateRetries
	default:
		return 0
	}
}

// RetryInfo describes a retry about to happen.
type RetryInfo struct {
	Op        string
	Attempt   int
	Remaining int
	Err       error
}

// Options configures a Queue.
type Options struct {
	Concurrency int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration

	// OnRetry is called before each retry, if set.
	OnRetry func(RetryInfo)
}

// Queue bounds outbound concurrency and wraps each operation in a bounded
// retry policy. One Queue is shared by every caller in the process.
type Queue struct {
	sem     *semaphore.Weighted
	min     time.Duration
	max     time.Duration
	onRetry func(RetryInfo)
	logger  zerolog.Logger
}

// New creates a Queue. Zero options take defaults.
func New(opts Options, logger zerolog.Logger) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}

	return &Queue{
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		min:     opts.MinBackoff,
		max:     opts.MaxBackoff,
		onRetry: opts.OnRetry,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// Do runs fn through the queue. Each attempt holds one concurrency slot;
// the slot is released while backing off. Transient failures are retried
// according to kind; the last error is returned unchanged.
func (q *Queue) Do(ctx context.Context, op string, kind Kind, fn func(ctx context.Context) error) error {
	maxRetries := kind.retries()
	backoff := retry.NewExponential(q.min)
	backoff = retry.WithCappedDuration(q.max, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(maxRetries, backoff)

	attempt := 0
	var lastErr error

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			info := RetryInfo{
				Op:        op,
				Attempt:   attempt,
				Remaining: int(maxRetries) - attempt + 1,
				Err:       lastErr,
			}
			retriesTotal.WithLabelValues(op).Inc()
			q.logger.Warn().
				Str("op", op).
				Int("attempt", info.Attempt).
				Int("remaining", info.Remaining).
				Err(lastErr).
				Msg("retrying operation")
			if q.onRetry != nil {
				q.onRetry(info)
			}
		}

		lastErr = q.run(ctx, fn)
		if lastErr != nil && apperr.IsTransient(lastErr) {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})

	if err != nil && lastErr != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return lastErr
	}
	return err
}

func (q *Queue) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	inFlight.Inc()
	defer inFlight.Dec()

	return fn(ctx)
}

// Value runs fn through q and returns its result.
func Value[T any](ctx context.Context, q *Queue, op string, kind Kind, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, op, kind, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
