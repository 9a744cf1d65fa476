package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Event describes a committed (or reverted) transition.
type Event[S, M comparable] struct {
	From    S
	To      S
	Message M
	// Version is the machine version produced by this commit. Versions grow by one per commit.
	Version uint64
	// Reverted is set on the compensating commit issued when an action fails.
	Reverted bool
}

// ActionFunc is invoked after a transition has been committed, outside the machine lock.
// Returning an error asks the machine to restore the previous state.
type ActionFunc[S, M comparable] func(ctx context.Context, ev Event[S, M]) error

// Row is one entry of a transition table.
type Row[S, M comparable] struct {
	From    S
	Message M
	To      S
	// Name labels the action in graphs and logs (e.g. "begin-run"). Empty when Action is nil.
	Name   string
	Action ActionFunc[S, M]
}

type rowKey[S, M comparable] struct {
	from S
	msg  M
}

// Table is a declarative (state, message) -> (state, action) mapping.
// It is built once and then read concurrently; Add is not safe after the table is in use.
type Table[S, M comparable] struct {
	rows       []Row[S, M]
	index      map[rowKey[S, M]]int
	duplicates []rowKey[S, M]
}

// NewTable creates an empty table.
func NewTable[S, M comparable]() *Table[S, M] {
	return &Table[S, M]{
		index: make(map[rowKey[S, M]]int),
	}
}

// Add registers a transition. The first row registered for a (from, msg) pair wins;
// later duplicates are kept aside and reported by Validate.
func (t *Table[S, M]) Add(from S, msg M, to S, name string, action ActionFunc[S, M]) *Table[S, M] {
	k := rowKey[S, M]{from: from, msg: msg}
	if _, exists := t.index[k]; exists {
		t.duplicates = append(t.duplicates, k)
		return t
	}
	t.index[k] = len(t.rows)
	t.rows = append(t.rows, Row[S, M]{From: from, Message: msg, To: to, Name: name, Action: action})
	return t
}

// Lookup returns the row for (from, msg).
func (t *Table[S, M]) Lookup(from S, msg M) (Row[S, M], bool) {
	i, ok := t.index[rowKey[S, M]{from: from, msg: msg}]
	if !ok {
		return Row[S, M]{}, false
	}
	return t.rows[i], true
}

// Rows returns the rows in registration order.
func (t *Table[S, M]) Rows() []Row[S, M] {
	return slices.Clone(t.rows)
}

// Validate checks the table integrity: no duplicate (from, msg) pairs, every state
// mentioned belongs to the known set, named rows carry an action and unnamed rows do not.
func (t *Table[S, M]) Validate(states []S) error {
	var errs []error
	for _, d := range t.duplicates {
		errs = append(errs, fmt.Errorf("duplicate transition for message %v in state %v", d.msg, d.from))
	}
	for _, r := range t.rows {
		if !slices.Contains(states, r.From) {
			errs = append(errs, fmt.Errorf("transition %v --%v--> %v: unknown source state", r.From, r.Message, r.To))
		}
		if !slices.Contains(states, r.To) {
			errs = append(errs, fmt.Errorf("transition %v --%v--> %v: unknown target state", r.From, r.Message, r.To))
		}
		if (r.Name == "") != (r.Action == nil) {
			errs = append(errs, fmt.Errorf("transition %v --%v--> %v: action name and function must be set together", r.From, r.Message, r.To))
		}
	}
	return errors.Join(errs...)
}
