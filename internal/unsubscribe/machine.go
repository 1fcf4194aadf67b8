package unsubscribe

import (
	"fmt"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

// State is a node of the execution state machine.
type State int

const (
	StateInit State = iota
	StateTier1
	StateTier2
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateTier1:
		return "TIER1_ATTEMPT"
	case StateTier2:
		return "TIER2_ATTEMPT"
	case StateSuccess:
		return "DONE_SUCCESS"
	case StateFailed:
		return "DONE_FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Tier1Outcome classifies a direct request.
type Tier1Outcome int

const (
	Tier1Confirmed Tier1Outcome = iota
	Tier1Inconclusive
	Tier1HTTPError
	Tier1NetworkError
	Tier1Unsupported
)

// Tier1Result is what a direct request produced.
type Tier1Result struct {
	Outcome Tier1Outcome
	Status  int
	Scheme  string
	Err     error
}

// Tier2Outcome classifies a browser run.
type Tier2Outcome int

const (
	Tier2Confirmed Tier2Outcome = iota
	Tier2Unconfirmed
	Tier2Blocked
	Tier2NoElement
	Tier2Fault
)

// Tier2Result is what a browser run produced.
type Tier2Result struct {
	Outcome Tier2Outcome

	// Clicked is the label of the element that was invoked.
	Clicked string

	// Blocker is the text that identified a blocking page.
	Blocker string

	// Artifacts are relative references to captured screenshots.
	Artifacts []string

	Err error
}

// Event drives the machine. It is one of Started, Tier1Done or Tier2Done.
type Event interface {
	event()
}

// Started begins an execution.
type Started struct{}

// Tier1Done reports the end of the direct request.
type Tier1Done struct{ Result Tier1Result }

// Tier2Done reports the end of the browser run.
type Tier2Done struct{ Result Tier2Result }

func (Started) event()   {}
func (Tier1Done) event() {}
func (Tier2Done) event() {}

// Result is the auditable outcome of an execution.
type Result struct {
	Success   bool
	Method    model.ExecutionMethod
	Message   string
	Artifacts []string

	// ReachedTier2 is set when the browser tier ran.
	ReachedTier2 bool

	// Err classifies some failures: KindBlocked, KindAmbiguous, or the
	// underlying fault.
	Err error
}

// Transition is the pure transition function. It returns the next state
// and, when that state is terminal, the result. Events that do not apply
// to the current state fail the execution.
func Transition(state State, ev Event) (State, *Result) {
	switch state {
	case StateInit:
		if _, ok := ev.(Started); ok {
			return StateTier1, nil
		}

	case StateTier1:
		if done, ok := ev.(Tier1Done); ok {
			return fromTier1(done.Result)
		}

	case StateTier2:
		if done, ok := ev.(Tier2Done); ok {
			return fromTier2(done.Result)
		}
	}

	return StateFailed, &Result{
		Method:  model.MethodManual,
		Message: fmt.Sprintf("invalid event %T in state %s", ev, state),
		Err:     apperr.New(apperr.KindConfig, "unsubscribe.Transition", "invalid transition"),
	}
}

func fromTier1(r Tier1Result) (State, *Result) {
	switch r.Outcome {
	case Tier1Confirmed:
		return StateSuccess, &Result{
			Success: true,
			Method:  model.MethodHeader,
			Message: "unsubscribed with a direct request",
		}
	case Tier1Unsupported:
		return StateFailed, &Result{
			Method:  model.MethodManual,
			Message: fmt.Sprintf("unsupported scheme %q", r.Scheme),
			Err:     apperr.New(apperr.KindFormat, "unsubscribe.tier1", "unsupported scheme"),
		}
	default:
		// A failed request and a page without a confirmation both
		// leave the outcome open.
		return StateTier2, nil
	}
}

func fromTier2(r Tier2Result) (State, *Result) {
	res := &Result{
		Method:       model.MethodTier2Click,
		Artifacts:    r.Artifacts,
		ReachedTier2: true,
	}

	switch r.Outcome {
	case Tier2Confirmed:
		res.Success = true
		res.Message = fmt.Sprintf("unsubscribed by clicking %q", r.Clicked)
		return StateSuccess, res

	case Tier2Blocked:
		res.Method = model.MethodManual
		res.Message = fmt.Sprintf("blocked: page requires manual action (%s)", r.Blocker)
		res.Err = apperr.New(apperr.KindBlocked, "unsubscribe.tier2", res.Message)

	case Tier2NoElement:
		res.Message = "no actionable element"

	case Tier2Unconfirmed:
		res.Message = fmt.Sprintf("unconfirmed: clicked %q but no confirmation was found", r.Clicked)
		res.Err = apperr.New(apperr.KindAmbiguous, "unsubscribe.tier2", "unconfirmed")

	default:
		detail := "browser automation failed"
		if r.Err != nil {
			detail = r.Err.Error()
		}
		res.Message = detail
		res.Err = r.Err
		if res.Err == nil {
			res.Err = apperr.New(apperr.KindTransient, "unsubscribe.tier2", detail)
		}
	}
	return StateFailed, res
}
