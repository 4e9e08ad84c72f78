package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/metrics"
)

// #endregion

// #region states

// State is a cascade executor state.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateSuccess
	StateExhausted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSuccess:
		return "success"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhausted || s == StateCancelled
}

// Event drives a transition.
type Event int

const (
	EventStart Event = iota
	EventSucceeded
	EventFailed
	EventCancelled
)

// Machine is the cascade position: the state plus, while attempting, the
// index of the candidate in flight out of Total.
type Machine struct {
	State State
	Index int
	Total int
}

// ErrInvalidTransition is returned for an event the current state does not accept.
var ErrInvalidTransition = errors.New("invalid cascade transition")

// Transition applies ev to m.
//
//	Idle         + Start     -> Attempting(0), or Exhausted when Total is 0
//	Attempting(i)+ Succeeded -> Success
//	Attempting(i)+ Failed    -> Attempting(i+1), or Exhausted after the last
//	Idle|Attempting + Cancelled -> Cancelled
func Transition(m Machine, ev Event) (Machine, error) {
	switch {
	case m.State == StateIdle && ev == EventStart:
		if m.Total == 0 {
			return Machine{State: StateExhausted, Total: 0}, nil
		}
		return Machine{State: StateAttempting, Index: 0, Total: m.Total}, nil
	case m.State == StateAttempting && ev == EventSucceeded:
		return Machine{State: StateSuccess, Index: m.Index, Total: m.Total}, nil
	case m.State == StateAttempting && ev == EventFailed:
		if m.Index+1 < m.Total {
			return Machine{State: StateAttempting, Index: m.Index + 1, Total: m.Total}, nil
		}
		return Machine{State: StateExhausted, Index: m.Index, Total: m.Total}, nil
	case (m.State == StateIdle || m.State == StateAttempting) && ev == EventCancelled:
		return Machine{State: StateCancelled, Index: m.Index, Total: m.Total}, nil
	}
	return m, fmt.Errorf("%w: %s on event %d", ErrInvalidTransition, m.State, ev)
}

// #endregion

// #region errors

// ErrCancelled is returned when the turn was cancelled or superseded. It is
// not a failure and is never reported to the user.
var ErrCancelled = errors.New("cascade cancelled")

// ExhaustedError is returned when every candidate failed. Last carries the
// final candidate's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d candidates failed, last: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// #endregion

// #region records

// AttemptOutcome is the result of one candidate attempt.
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptSkipped   AttemptOutcome = "skipped" // credential missing, no call made
	AttemptCancelled AttemptOutcome = "cancelled"
)

// AttemptRecord describes one candidate attempt.
type AttemptRecord struct {
	TurnID    string
	Tier      Tier
	Candidate llm.Candidate
	Index     int
	Outcome   AttemptOutcome
	Reason    string
	Latency   time.Duration
	CreatedAt time.Time
}

// AttemptRecorder persists attempt records. Recording is best-effort.
type AttemptRecorder interface {
	Record(ctx context.Context, rec AttemptRecord) error
}

// Result is the typed outcome of a cascade run.
type Result struct {
	State     State // Success, Exhausted or Cancelled
	Reply     string
	Candidate llm.Candidate
	Attempts  []AttemptRecord
}

// Failures counts attempts that failed or were skipped.
func (r Result) Failures() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == AttemptFailed || a.Outcome == AttemptSkipped {
			n++
		}
	}
	return n
}

// #endregion

// #region executor

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	MinKeyLength   int
	AttemptTimeout time.Duration // 0 leaves only the caller's deadline
}

// Executor runs an ordered candidate list strictly sequentially until one
// candidate returns a usable reply.
type Executor struct {
	providers llm.Registry
	cfg       ExecutorConfig
	recorder  AttemptRecorder
	log       zerolog.Logger
}

// NewExecutor creates an executor. recorder may be nil.
func NewExecutor(providers llm.Registry, cfg ExecutorConfig, recorder AttemptRecorder, log zerolog.Logger) *Executor {
	return &Executor{providers: providers, cfg: cfg, recorder: recorder, log: log}
}

// Run drives the state machine over candidates. It returns ErrCancelled when
// ctx ends mid-cascade and *ExhaustedError when every candidate failed; the
// Result is populated in every case.
func (e *Executor) Run(ctx context.Context, turnID string, tier Tier, candidates []llm.Candidate, req *llm.ChatRequest) (Result, error) {
	m, _ := Transition(Machine{State: StateIdle, Total: len(candidates)}, EventStart)
	res := Result{}
	var lastErr error = errors.New("no candidates configured")

	for m.State == StateAttempting {
		if ctx.Err() != nil {
			m, _ = Transition(m, EventCancelled)
			break
		}

		cand := candidates[m.Index]
		start := time.Now()
		reply, err := e.attempt(ctx, cand, req)
		rec := AttemptRecord{
			TurnID:    turnID,
			Tier:      tier,
			Candidate: cand,
			Index:     m.Index,
			Latency:   time.Since(start),
			CreatedAt: start,
		}

		switch {
		case err == nil:
			rec.Outcome = AttemptSuccess
			res.Reply = reply
			res.Candidate = cand
			m, _ = Transition(m, EventSucceeded)
		case ctx.Err() != nil:
			// Superseded or user-cancelled: abandon without advancing.
			rec.Outcome = AttemptCancelled
			e.log.Debug().Str("turn", turnID).Str("model", cand.Model).Msg("attempt cancelled")
			m, _ = Transition(m, EventCancelled)
		default:
			rec.Outcome = AttemptFailed
			if errors.Is(err, llm.ErrCredentialMissing) {
				rec.Outcome = AttemptSkipped
			}
			rec.Reason = err.Error()
			lastErr = err
			e.log.Warn().
				Str("turn", turnID).
				Str("tier", string(tier)).
				Str("model", cand.Model).
				Str("provider", string(cand.Provider)).
				Int("attempt", m.Index+1).
				Str("reason", rec.Reason).
				Msg("candidate failed")
			m, _ = Transition(m, EventFailed)
		}

		metrics.CascadeAttempts.WithLabelValues(string(tier), cand.Model, string(rec.Outcome)).Inc()
		res.Attempts = append(res.Attempts, rec)
		e.record(ctx, rec)
	}

	res.State = m.State
	metrics.CascadeOutcomes.WithLabelValues(string(tier), m.State.String()).Inc()

	switch m.State {
	case StateSuccess:
		return res, nil
	case StateCancelled:
		return res, ErrCancelled
	default:
		return res, &ExhaustedError{Attempts: len(res.Attempts), Last: lastErr}
	}
}

func (e *Executor) attempt(ctx context.Context, cand llm.Candidate, req *llm.ChatRequest) (string, error) {
	provider, ok := e.providers.For(cand)
	if !ok {
		return "", fmt.Errorf("%s: no provider for kind %q: %w", cand.Model, cand.Provider, llm.ErrCredentialMissing)
	}
	if !llm.CredentialPlausible(provider.Credential(), e.cfg.MinKeyLength) {
		return "", fmt.Errorf("%s: %w", cand, llm.ErrCredentialMissing)
	}

	attemptCtx := ctx
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}

	reply, err := provider.Complete(attemptCtx, req.WithModel(cand.Model))
	if err != nil {
		return "", err
	}
	return validateReply(reply)
}

func (e *Executor) record(ctx context.Context, rec AttemptRecord) {
	if e.recorder == nil {
		return
	}
	// The attempt already happened; record it even if the turn was cancelled.
	if err := e.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Debug().Err(err).Msg("record attempt")
	}
}

// #endregion
