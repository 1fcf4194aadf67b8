package source

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/queue"
)

// Queued routes every call of a Source through the shared request queue.
type Queued struct {
	inner   Source
	queue   *queue.Queue
	name    string
	timeout time.Duration
}

var _ Source = (*Queued)(nil)

// NewQueued wraps src. A positive timeout bounds each attempt of each call.
func NewQueued(src Source, q *queue.Queue, name string, timeout time.Duration) *Queued {
	return &Queued{inner: src, queue: q, name: name, timeout: timeout}
}

func (s *Queued) List(ctx context.Context, since time.Time) ([]string, error) {
	return queue.Value(ctx, s.queue, s.name+".list", queue.Read,
		func(ctx context.Context) ([]string, error) {
			ctx, cancel := s.bound(ctx)
			defer cancel()
			ids, err := s.inner.List(ctx, since)
			return ids, s.timedOut(ctx, err)
		})
}

func (s *Queued) Get(ctx context.Context, id string) (*RawMessage, error) {
	return queue.Value(ctx, s.queue, s.name+".get", queue.Read,
		func(ctx context.Context) (*RawMessage, error) {
			ctx, cancel := s.bound(ctx)
			defer cancel()
			msg, err := s.inner.Get(ctx, id)
			return msg, s.timedOut(ctx, err)
		})
}

func (s *Queued) Archive(ctx context.Context, id string) error {
	return s.mutate(ctx, "archive", func(ctx context.Context) error {
		return s.inner.Archive(ctx, id)
	})
}

func (s *Queued) Trash(ctx context.Context, id string) error {
	return s.mutate(ctx, "trash", func(ctx context.Context) error {
		return s.inner.Trash(ctx, id)
	})
}

func (s *Queued) Modify(ctx context.Context, id string, add, remove []string) error {
	return s.mutate(ctx, "modify", func(ctx context.Context) error {
		return s.inner.Modify(ctx, id, add, remove)
	})
}

func (s *Queued) mutate(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.queue.Do(ctx, s.name+"."+op, queue.Mutate, func(ctx context.Context) error {
		ctx, cancel := s.bound(ctx)
		defer cancel()
		return s.timedOut(ctx, fn(ctx))
	})
}

func (s *Queued) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// timedOut turns a per-call deadline into a retryable error. ctx is the
// bounded attempt context.
func (s *Queued) timedOut(ctx context.Context, err error) error {
	if err == nil || s.timeout <= 0 {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if apperr.IsTransient(err) {
			return err
		}
		return apperr.Wrap(apperr.KindTransient, s.name, "provider call timed out", err)
	}
	return err
}
