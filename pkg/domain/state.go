package domain

import "fmt"

// State defines the current mode of the execution controller.
type State string

const (
	StateStopped  State = "stopped"  // Initial and rest state between runs
	StateRunning  State = "running"  // Worker keeps advancing the job
	StateStepping State = "stepping" // Worker advances one operation per request
)

// States lists every State in declaration order.
var States = []State{StateStopped, StateRunning, StateStepping}

// Active reports whether a run is in progress.
func (s State) Active() bool {
	return s == StateRunning || s == StateStepping
}

// Message is an ephemeral input to the state machine. It is never stored, only dispatched.
type Message string

const (
	MessageStartOrPause Message = "start_or_pause"
	MessageStep         Message = "step"
	MessageAbort        Message = "abort"
	MessageFinished     Message = "finished"
)

// Messages lists every Message in declaration order.
var Messages = []Message{MessageStartOrPause, MessageStep, MessageAbort, MessageFinished}

// ParseState converts a string into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", s)
}
