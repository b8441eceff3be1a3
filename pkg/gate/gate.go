// Package gate runs the bounded check/fix retry loop applied to the merged
// baseline. The gate owns only the attempt bookkeeping; the actual checks
// and fixes come through the CheckRunner and Fixer capability boundaries.
package gate

import (
	"context"
	"fmt"
	"time"

	"laneflow/pkg/config"
	"laneflow/pkg/logx"
)

// State is the validation gate's state machine position.
type State string

const (
	StateRunning      State = "running"
	StateFixerInvoked State = "fixer_invoked"
	StateDone         State = "done"
	StateExhausted    State = "exhausted"
)

//nolint:gochecknoglobals // Static transition table.
var gateTransitions = map[State][]State{
	StateRunning:      {StateDone, StateFixerInvoked, StateExhausted},
	StateFixerInvoked: {StateRunning},
	StateDone:         {},
	StateExhausted:    {},
}

// CanTransitionTo reports whether the gate state machine allows s -> next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range gateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateExhausted
}

// Attempt outcomes.
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
)

// Attempt is one immutable validation attempt record. It is appended to the
// per-work-item attempts log and never mutated retroactively.
type Attempt struct {
	StartedAt    time.Time     `json:"started_at"`
	WorkItemID   string        `json:"work_item_id"`
	Attempt      int           `json:"attempt"`
	Outcome      string        `json:"outcome"`
	Errors       []string      `json:"errors,omitempty"`
	FixerInvoked bool          `json:"fixer_invoked"`
	Duration     time.Duration `json:"duration"`
}

// CheckResult is the outcome of one check-runner invocation.
type CheckResult struct {
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

// CheckRunner validates the merged baseline. Implementations run builds,
// linters, tests, whatever the project configures.
type CheckRunner interface {
	Validate(ctx context.Context, baseline string) (CheckResult, error)
}

// Fixer attempts to address a failed attempt's error set by mutating the
// baseline. Invoked between retries.
type Fixer interface {
	Fix(ctx context.Context, baseline string, failed Attempt) error
}

// RetryExhaustedError is the terminal failure after max attempts. It carries
// every recorded attempt so operators can reconstruct the full sequence.
// The work item must transition to blocked, never completed.
type RetryExhaustedError struct {
	WorkItemID string
	Attempts   []Attempt
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("validation retries exhausted for %s after %d attempts",
		e.WorkItemID, len(e.Attempts))
}

// Gate is the bounded retry loop around a check runner and an optional
// fixer.
type Gate struct {
	runner         CheckRunner
	fixer          Fixer
	recorder       AttemptRecorder
	maxAttempts    int
	attemptTimeout time.Duration
	logger         *logx.Logger
}

// AttemptRecorder persists attempt records. Recording failures are logged,
// never allowed to interrupt the retry loop.
type AttemptRecorder interface {
	Record(attempt Attempt) error
}

// New creates a validation gate. fixer may be nil; the gate then retries
// without a fix step. recorder may be nil to skip persistence.
func New(runner CheckRunner, fixer Fixer, recorder AttemptRecorder, cfg config.GateConfig) *Gate {
	return &Gate{
		runner:         runner,
		fixer:          fixer,
		recorder:       recorder,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout(),
		logger:         logx.NewLogger("gate"),
	}
}

// Run executes the retry loop against the baseline. It returns the recorded
// attempts plus nil on pass, or the attempts plus *RetryExhaustedError after
// the attempt bound is consumed. An attempt exceeding its execution window
// counts as a fail and consumes one retry.
func (g *Gate) Run(ctx context.Context, workItemID, baseline string) ([]Attempt, error) {
	state := StateRunning
	attempts := make([]Attempt, 0, g.maxAttempts)

	for attemptNum := 1; attemptNum <= g.maxAttempts; attemptNum++ {
		attempt := g.runAttempt(ctx, workItemID, baseline, attemptNum)

		if attempt.Outcome == OutcomePass {
			g.transition(&state, StateDone)
			g.record(attempt)
			attempts = append(attempts, attempt)
			g.logger.Info("Validation passed for %s on attempt %d", workItemID, attemptNum)
			return attempts, nil
		}

		// Fix only between attempts; the last failure goes straight to
		// exhausted.
		if attemptNum < g.maxAttempts && g.fixer != nil {
			g.transition(&state, StateFixerInvoked)
			attempt.FixerInvoked = true
			g.logger.Info("Invoking fixer for %s after attempt %d", workItemID, attemptNum)
			if err := g.fixer.Fix(ctx, baseline, attempt); err != nil {
				g.logger.Warn("Fixer for %s failed: %v", workItemID, err)
			}
			g.transition(&state, StateRunning)
		}

		g.record(attempt)
		attempts = append(attempts, attempt)
	}

	g.transition(&state, StateExhausted)
	g.logger.Error("Validation exhausted for %s after %d attempts", workItemID, len(attempts))
	return attempts, &RetryExhaustedError{WorkItemID: workItemID, Attempts: attempts}
}

// runAttempt executes one bounded check invocation.
func (g *Gate) runAttempt(ctx context.Context, workItemID, baseline string, attemptNum int) Attempt {
	attempt := Attempt{
		StartedAt:  time.Now().UTC(),
		WorkItemID: workItemID,
		Attempt:    attemptNum,
	}

	attemptCtx := ctx
	if g.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()
	}

	result, err := g.runner.Validate(attemptCtx, baseline)
	attempt.Duration = time.Since(attempt.StartedAt)

	switch {
	case err != nil:
		// Timeouts and runner errors both consume the retry.
		attempt.Outcome = OutcomeFail
		attempt.Errors = []string{err.Error()}
	case result.Passed:
		attempt.Outcome = OutcomePass
	default:
		attempt.Outcome = OutcomeFail
		attempt.Errors = result.Errors
	}
	return attempt
}

func (g *Gate) transition(state *State, next State) {
	if !state.CanTransitionTo(next) {
		// The loop structure makes this unreachable; a panic here means the
		// transition table and the loop disagree.
		panic(fmt.Sprintf("gate: illegal state transition %s -> %s", *state, next))
	}
	*state = next
}

func (g *Gate) record(attempt Attempt) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Record(attempt); err != nil {
		g.logger.Warn("Failed to record attempt %d for %s: %v", attempt.Attempt, attempt.WorkItemID, err)
	}
}
