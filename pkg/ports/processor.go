package ports

import (
	"context"

	"github.com/aretw0/jobctl/pkg/domain"
)

// JobProcessor executes a job on the machine. The controller calls it only from the
// worker goroutine, one call at a time, so implementations need no locking for the
// controller's sake.
type JobProcessor interface {
	// Initialize prepares the processor to execute job from its first operation.
	Initialize(ctx context.Context, job *domain.Job) error

	// Next executes one operation. It reports whether more operations remain.
	Next(ctx context.Context) (bool, error)

	// Skip advances past the current (failed) operation without executing it.
	Skip(ctx context.Context) error

	// Abort stops the job and returns the machine to a safe state.
	Abort(ctx context.Context) error

	// CanSkip reports whether the current operation may be skipped.
	CanSkip() bool
}

// StatusEmitter is implemented by processors that publish human-readable status text.
type StatusEmitter interface {
	AddStatusListener(fn func(status string))
}

// DecisionSource resolves an operation failure. It is consulted with the offered
// options set in ev.Options and may block (e.g. waiting for an operator).
type DecisionSource interface {
	Decide(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error)
}

// ReadinessGate reports whether the machine is enabled. StartOrPause and Step are
// refused while it is disabled; Abort never is.
type ReadinessGate interface {
	Enabled() bool
}

// StatusSink receives status text for display (status bar, log, event stream).
type StatusSink interface {
	Status(msg string)
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(msg string)

func (f StatusSinkFunc) Status(msg string) { f(msg) }

// GateFunc adapts a function to ReadinessGate.
type GateFunc func() bool

func (f GateFunc) Enabled() bool { return f() }
