package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventRunStart    EventType = "run_start"
	EventRunEnd      EventType = "run_end"
	EventOperation   EventType = "operation"
	EventFailure     EventType = "failure"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
}

// StateEvent is published after every committed transition.
type StateEvent struct {
	EventBase
	From     State   `json:"from"`
	To       State   `json:"to"`
	Message  Message `json:"message"`
	Version  uint64  `json:"version"`
	Reverted bool    `json:"reverted,omitempty"` // The transition action failed and the state was restored
}

// OperationEvent describes one processor call executed by the worker.
type OperationEvent struct {
	EventBase
	Processor ProcessorKind `json:"processor"`
	Op        string        `json:"op"`
	Duration  time.Duration `json:"duration"`
	More      bool          `json:"more,omitempty"` // Next only: operations remain
	Err       error         `json:"-"`
}

// FailureEvent describes an operation failure and how it was resolved.
type FailureEvent struct {
	EventBase
	Processor ProcessorKind `json:"processor"`
	Op        string        `json:"op"`
	Err       error         `json:"-"`
	Message   string        `json:"message"`
	// Attempt counts consecutive failures of the current operation, starting at 1.
	Attempt  int        `json:"attempt"`
	Options  []Decision `json:"options,omitempty"` // Empty when the failure is only reported
	Decision Decision   `json:"decision,omitempty"`
}

// LifecycleHooks defines callbacks for controller observability.
// Hooks are invoked synchronously and must not block.
type LifecycleHooks struct {
	OnStateChange func(context.Context, *StateEvent)
	OnRunStart    func(context.Context, *RunRecord)
	OnRunEnd      func(context.Context, *RunRecord)
	OnOperation   func(context.Context, *OperationEvent)
	OnFailure     func(context.Context, *FailureEvent)
}

// CombineHooks fans every callback out to all provided hook sets, in order.
func CombineHooks(sets ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *StateEvent) {
			for _, h := range sets {
				if h.OnStateChange != nil {
					h.OnStateChange(ctx, e)
				}
			}
		},
		OnRunStart: func(ctx context.Context, r *RunRecord) {
			for _, h := range sets {
				if h.OnRunStart != nil {
					h.OnRunStart(ctx, r)
				}
			}
		},
		OnRunEnd: func(ctx context.Context, r *RunRecord) {
			for _, h := range sets {
				if h.OnRunEnd != nil {
					h.OnRunEnd(ctx, r)
				}
			}
		},
		OnOperation: func(ctx context.Context, e *OperationEvent) {
			for _, h := range sets {
				if h.OnOperation != nil {
					h.OnOperation(ctx, e)
				}
			}
		},
		OnFailure: func(ctx context.Context, e *FailureEvent) {
			for _, h := range sets {
				if h.OnFailure != nil {
					h.OnFailure(ctx, e)
				}
			}
		},
	}
}
