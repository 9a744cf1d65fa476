package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a message is sent in a state that has no transition for it.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrProcessorInit is returned when the selected processor rejects the job.
var ErrProcessorInit = errors.New("processor initialization failed")

// ErrOperationFailed marks failures raised by a processor while a run is active.
var ErrOperationFailed = errors.New("operation failed")

// ErrUnknownProcessor is returned when a processor kind is not registered.
var ErrUnknownProcessor = errors.New("unknown processor kind")

// ErrUnknownWorkflow is returned for a workflow selector that cannot be resolved.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrMachineDisabled is returned when the readiness gate refuses a command.
var ErrMachineDisabled = errors.New("machine disabled")

// ErrJobLocked is returned when a job is mutated (or replaced) while a run holds it.
var ErrJobLocked = errors.New("job is locked by an active run")

// ErrRunNotFound is returned when a run ID cannot be found in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrUnknownDecision is returned when a decision string cannot be parsed.
var ErrUnknownDecision = errors.New("unknown decision")

// ErrUnknownCommand is returned when a command string cannot be parsed.
var ErrUnknownCommand = errors.New("unknown command")

// ProcessorInitError wraps the error returned by JobProcessor.Initialize.
type ProcessorInitError struct {
	Kind ProcessorKind
	Err  error
}

func (e *ProcessorInitError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrProcessorInit, e.Kind, e.Err)
}

func (e *ProcessorInitError) Unwrap() error { return e.Err }

func (e *ProcessorInitError) Is(target error) bool { return target == ErrProcessorInit }

// OperationError wraps a failure raised by Next, Skip or Abort.
type OperationError struct {
	Kind ProcessorKind
	Op   string // "next", "skip" or "abort"
	Err  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *OperationError) Is(target error) bool { return target == ErrOperationFailed }
