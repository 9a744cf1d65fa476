package domain

// Transition describes one row of the execution-control transition table.
// Action names the controller behaviour bound to the row; empty means none.
type Transition struct {
	From    State   `json:"from" yaml:"from"`
	Message Message `json:"message" yaml:"message"`
	To      State   `json:"to" yaml:"to"`
	Action  string  `json:"action,omitempty" yaml:"action,omitempty"`
}

// Action names used in the transition table.
const (
	ActionBeginRun  = "begin-run"
	ActionResumeRun = "resume-run"
	ActionAbortRun  = "abort-run"
)
