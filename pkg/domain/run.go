package domain

import "time"

// RunOutcome describes how a run ended.
type RunOutcome string

const (
	OutcomeNone     RunOutcome = ""         // Still active
	OutcomeFinished RunOutcome = "finished" // Processor reported no more operations
	OutcomeAborted  RunOutcome = "aborted"  // Abort message received
)

// RunRecord is the observable summary of one run.
// A run starts on begin-run and ends when the state returns to Stopped.
type RunRecord struct {
	ID        string        `json:"id"`
	MachineID string        `json:"machine_id,omitempty"`
	JobName   string        `json:"job_name,omitempty"`
	Workflow  Workflow      `json:"workflow"`
	Processor ProcessorKind `json:"processor"`
	State     State         `json:"state"`

	// Operations is the job length when the run started.
	Operations int    `json:"operations"`
	Completed  int    `json:"completed"`
	Skipped    int    `json:"skipped"`
	Failures   int    `json:"failures"`
	LastError  string `json:"last_error,omitempty"`

	Outcome   RunOutcome `json:"outcome,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the run has not ended yet.
func (r *RunRecord) Active() bool {
	return r.EndedAt == nil
}
