package unsubscribe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/store"
	"github.com/nhle/mailsweep/tests/testutil"
)

// scriptedRunner returns a result keyed by target.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]Result
	calls   []time.Time
	ctxErrs []error

	// onExecute runs before the result is returned.
	onExecute func()
}

func (r *scriptedRunner) Execute(ctx context.Context, attemptID, target string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, time.Now())
	if r.onExecute != nil {
		r.onExecute()
	}
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.results[target]
}

func seedMessage(t *testing.T, s *store.SQLiteStore, accountID, externalID, target string) *model.Message {
	t.Helper()
	msg := &model.Message{
		AccountID:         accountID,
		ExternalID:        externalID,
		Subject:           "Weekly deals",
		Sender:            "deals@shop.example",
		ReceivedAt:        time.Now().UTC(),
		UnsubscribeTarget: target,
		UnsubscribeMethod: model.UnsubscribeHeader,
	}
	if target == "" {
		msg.UnsubscribeMethod = model.UnsubscribeNone
	}
	require.NoError(t, s.InsertMessage(context.Background(), msg))
	return msg
}

func TestServiceUnsubscribeRecordsAttempt(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	msg := seedMessage(t, s, account.ID, "ext-1", "https://shop.example/u")

	artifacts := []string{"a/before.png", "a/before.html", "a/after.png", "a/after.html"}
	runner := &scriptedRunner{results: map[string]Result{
		"https://shop.example/u": {
			Method:       model.MethodTier2Click,
			Message:      "unconfirmed",
			Artifacts:    artifacts,
			ReachedTier2: true,
		},
	}}
	svc := NewService(s, runner, 0, zerolog.Nop())

	out, err := svc.Unsubscribe(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, model.AttemptFailed, out.Attempt.Status)

	latest, err := svc.Latest(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Attempt.ID, latest.ID)
	assert.Equal(t, model.AttemptFailed, latest.Status)
	assert.Equal(t, model.MethodTier2Click, latest.Method)
	require.NotNil(t, latest.Error)
	assert.Equal(t, "unconfirmed", *latest.Error)
	require.NotNil(t, latest.Evidence)
	assert.Equal(t, "a/after.png", *latest.Evidence)
	assert.Equal(t, model.ArtifactRefs(artifacts), latest.Artifacts)
	assert.NotNil(t, latest.CompletedAt)
}

func TestServiceUnsubscribeCarriesFailureKind(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		kind   apperr.Kind
	}{
		{
			name: "blocked",
			result: Result{
				Method:    model.MethodManual,
				Message:   "blocked: captcha",
				Artifacts: []string{"a/before.png", "a/before.html"},
				Err:       apperr.New(apperr.KindBlocked, "unsubscribe.tier2", "blocked: captcha"),
			},
			kind: apperr.KindBlocked,
		},
		{
			name: "ambiguous",
			result: Result{
				Method:  model.MethodTier2Click,
				Message: "unconfirmed",
				Err:     apperr.New(apperr.KindAmbiguous, "unsubscribe.tier2", "unconfirmed"),
			},
			kind: apperr.KindAmbiguous,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewTestStore(t)
			account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
			msg := seedMessage(t, s, account.ID, "ext-1", "https://shop.example/u")
			runner := &scriptedRunner{results: map[string]Result{"https://shop.example/u": tt.result}}

			out, err := NewService(s, runner, 0, zerolog.Nop()).Unsubscribe(context.Background(), msg.ID)
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Equal(t, tt.kind, out.Kind)

			latest, err := s.LatestAttempt(context.Background(), msg.ID)
			require.NoError(t, err)
			require.NotNil(t, latest.ErrorKind)
			assert.Equal(t, string(tt.kind), *latest.ErrorKind)
		})
	}
}

func TestServiceUnsubscribeSuccess(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	msg := seedMessage(t, s, account.ID, "ext-1", "https://shop.example/u")

	runner := &scriptedRunner{results: map[string]Result{
		"https://shop.example/u": {Success: true, Method: model.MethodHeader, Message: "ok"},
	}}
	out, err := NewService(s, runner, 0, zerolog.Nop()).Unsubscribe(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, out.Success)

	latest, err := s.LatestAttempt(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSuccess, latest.Status)
	assert.Nil(t, latest.Error)
	assert.Nil(t, latest.ErrorKind)
	assert.Nil(t, latest.Evidence)
	assert.Empty(t, out.Kind)
}

func TestServiceUnsubscribeIgnoresCallerCancellation(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	msg := seedMessage(t, s, account.ID, "ext-1", "https://shop.example/u")

	runner := &scriptedRunner{results: map[string]Result{
		"https://shop.example/u": {Success: true, Method: model.MethodHeader},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.onExecute = cancel
	svc := NewService(s, runner, 0, zerolog.Nop())

	out, err := svc.Unsubscribe(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.NoError(t, runner.ctxErrs[0])

	latest, err := s.LatestAttempt(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSuccess, latest.Status)
}

func TestServiceUnsubscribeWithoutTarget(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	msg := seedMessage(t, s, account.ID, "ext-1", "")

	_, err := NewService(s, &scriptedRunner{}, 0, zerolog.Nop()).Unsubscribe(context.Background(), msg.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = NewService(s, &scriptedRunner{}, 0, zerolog.Nop()).Unsubscribe(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestServiceBulkDelaysBetweenBrowserRuns(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	first := seedMessage(t, s, account.ID, "ext-1", "https://a.example/u")
	second := seedMessage(t, s, account.ID, "ext-2", "https://b.example/u")
	third := seedMessage(t, s, account.ID, "ext-3", "https://c.example/u")

	const delay = 60 * time.Millisecond
	runner := &scriptedRunner{results: map[string]Result{
		"https://a.example/u": {Method: model.MethodTier2Click, ReachedTier2: true},
		"https://b.example/u": {Success: true, Method: model.MethodHeader},
		"https://c.example/u": {Success: true, Method: model.MethodHeader},
	}}
	svc := NewService(s, runner, delay, zerolog.Nop())

	items, err := svc.Bulk(context.Background(), []string{first.ID, "missing", second.ID, third.ID})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.NotNil(t, items[0].Outcome)
	assert.NotEmpty(t, items[1].Error)
	assert.True(t, items[2].Outcome.Success)
	assert.True(t, items[3].Outcome.Success)

	require.Len(t, runner.calls, 3)
	// Only the run after the browser attempt waits.
	assert.GreaterOrEqual(t, runner.calls[1].Sub(runner.calls[0]), delay)
	assert.Less(t, runner.calls[2].Sub(runner.calls[1]), delay)
}

func TestServiceBulkStopsWhenCancelledDuringDelay(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@example.com", "sealed", nil)
	first := seedMessage(t, s, account.ID, "ext-1", "https://a.example/u")
	second := seedMessage(t, s, account.ID, "ext-2", "https://b.example/u")

	runner := &scriptedRunner{results: map[string]Result{
		"https://a.example/u": {Method: model.MethodTier2Click, ReachedTier2: true},
	}}
	svc := NewService(s, runner, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	items, err := svc.Bulk(ctx, []string{first.ID, second.ID})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, items, 1)
}
