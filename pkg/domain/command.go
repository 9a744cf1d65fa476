package domain

import "fmt"

// Command is the enumerated set of operator intents accepted by the controller.
type Command string

const (
	CommandStartOrPause Command = "start_or_pause"
	CommandStep         Command = "step"
	CommandAbort        Command = "abort"
)

// ParseCommand accepts canonical names and the common aliases used by operators.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "start_or_pause", "start-or-pause", "start", "pause", "resume":
		return CommandStartOrPause, nil
	case "step":
		return CommandStep, nil
	case "abort", "stop":
		return CommandAbort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Availability describes which commands an operator surface should enable.
type Availability struct {
	// StartLabel is "start", "pause" or "resume" depending on the state.
	StartLabel     string `json:"start_label"`
	StartOrPause   bool   `json:"start_or_pause"`
	Step           bool   `json:"step"`
	Abort          bool   `json:"abort"`
	SelectWorkflow bool   `json:"select_workflow"`
}

// AvailabilityFor computes the command availability for a state.
// A disabled machine disables every command but keeps the label accurate.
func AvailabilityFor(s State, machineEnabled bool) Availability {
	var a Availability
	switch s {
	case StateStopped:
		a = Availability{StartLabel: "start", StartOrPause: true, Step: true, SelectWorkflow: true}
	case StateRunning:
		a = Availability{StartLabel: "pause", StartOrPause: true, Abort: true}
	case StateStepping:
		a = Availability{StartLabel: "resume", StartOrPause: true, Step: true, Abort: true}
	}
	if !machineEnabled {
		a.StartOrPause = false
		a.Step = false
		a.Abort = false
	}
	return a
}
