package domain

import (
	"fmt"
	"slices"
	"sync"
)

// Operation is one atomic unit of work performed by a processor per Next call.
// The controller never looks inside it; processors interpret Type, Ref and Params.
type Operation struct {
	ID     string         `json:"id" yaml:"id" mapstructure:"id"`
	Type   string         `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Ref    string         `json:"ref,omitempty" yaml:"ref,omitempty" mapstructure:"ref"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// Job is an ordered, mutable sequence of operations.
// While a run holds the job (Claim), every mutation fails with ErrJobLocked.
// Safe for concurrent use.
type Job struct {
	Name string

	mu     sync.RWMutex
	ops    []Operation
	locked bool
}

// NewJob creates a job with the given operations.
func NewJob(name string, ops ...Operation) *Job {
	return &Job{
		Name: name,
		ops:  slices.Clone(ops),
	}
}

// Len returns the number of operations.
func (j *Job) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.ops)
}

// Operations returns a copy of the operation sequence.
func (j *Job) Operations() []Operation {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.ops)
}

// At returns the operation at position i.
func (j *Job) At(i int) (Operation, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if i < 0 || i >= len(j.ops) {
		return Operation{}, false
	}
	return j.ops[i], true
}

// Append adds operations to the end of the job.
func (j *Job) Append(ops ...Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.locked {
		return ErrJobLocked
	}
	j.ops = append(j.ops, ops...)
	return nil
}

// Remove deletes the operation with the given ID.
func (j *Job) Remove(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.locked {
		return ErrJobLocked
	}
	idx := slices.IndexFunc(j.ops, func(op Operation) bool { return op.ID == id })
	if idx < 0 {
		return fmt.Errorf("operation %q not found", id)
	}
	j.ops = slices.Delete(j.ops, idx, idx+1)
	return nil
}

// Replace swaps the whole operation sequence.
func (j *Job) Replace(ops []Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.locked {
		return ErrJobLocked
	}
	j.ops = slices.Clone(ops)
	return nil
}

// Claim marks the job as held by a run. It fails if another run already holds it.
func (j *Job) Claim() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.locked {
		return ErrJobLocked
	}
	j.locked = true
	return nil
}

// Release makes the job mutable again.
func (j *Job) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.locked = false
}

// Locked reports whether a run currently holds the job.
func (j *Job) Locked() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.locked
}
