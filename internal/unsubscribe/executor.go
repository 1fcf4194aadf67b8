package unsubscribe

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Executor runs the two-tier state machine for one target.
type Executor struct {
	tier1  Tier1
	tier2  Tier2
	logger zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(tier1 Tier1, tier2 Tier2, logger zerolog.Logger) *Executor {
	return &Executor{
		tier1:  tier1,
		tier2:  tier2,
		logger: logger.With().Str("component", "unsubscribe").Logger(),
	}
}

// Execute drives target from INIT to a terminal state. It never retries a
// tier; the attempt id names the artifact directory.
func (e *Executor) Execute(ctx context.Context, attemptID, target string) Result {
	logger := e.logger.With().Str("attempt_id", attemptID).Logger()

	state, result := Transition(StateInit, Started{})
	for result == nil {
		var ev Event
		switch state {
		case StateTier1:
			ev = Tier1Done{Result: e.runTier1(ctx, target)}
		case StateTier2:
			ev = Tier2Done{Result: e.tier2.Attempt(ctx, attemptID, target)}
		}

		next, res := Transition(state, ev)
		logger.Debug().Str("from", state.String()).Str("to", next.String()).Msg("unsubscribe transition")
		state, result = next, res
	}

	event := logger.Info()
	if !result.Success {
		event = logger.Warn().AnErr("cause", result.Err)
	}
	event.Str("state", state.String()).
		Str("method", string(result.Method)).
		Strs("artifacts", result.Artifacts).
		Msg(result.Message)

	return *result
}

func (e *Executor) runTier1(ctx context.Context, target string) Tier1Result {
	scheme := schemeOf(target)
	if scheme != "http" && scheme != "https" {
		return Tier1Result{Outcome: Tier1Unsupported, Scheme: scheme}
	}
	return e.tier1.Attempt(ctx, target)
}

func schemeOf(target string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
