package controller

import (
	"slices"

	"github.com/aretw0/jobctl/internal/runtime"
	"github.com/aretw0/jobctl/pkg/domain"
)

type machine = runtime.Machine[domain.State, domain.Message]
type transitionEvent = runtime.Event[domain.State, domain.Message]

var transitions = []domain.Transition{
	{From: domain.StateStopped, Message: domain.MessageStartOrPause, To: domain.StateRunning, Action: domain.ActionBeginRun},
	{From: domain.StateStopped, Message: domain.MessageStep, To: domain.StateStepping, Action: domain.ActionBeginRun},
	{From: domain.StateRunning, Message: domain.MessageStartOrPause, To: domain.StateStepping},
	{From: domain.StateRunning, Message: domain.MessageAbort, To: domain.StateStopped, Action: domain.ActionAbortRun},
	{From: domain.StateRunning, Message: domain.MessageFinished, To: domain.StateStopped},
	{From: domain.StateStepping, Message: domain.MessageStartOrPause, To: domain.StateRunning, Action: domain.ActionResumeRun},
	{From: domain.StateStepping, Message: domain.MessageStep, To: domain.StateStepping, Action: domain.ActionResumeRun},
	{From: domain.StateStepping, Message: domain.MessageAbort, To: domain.StateStopped, Action: domain.ActionAbortRun},
	{From: domain.StateStepping, Message: domain.MessageFinished, To: domain.StateStopped},
}

// Transitions returns the execution-control transition table.
func Transitions() []domain.Transition {
	return slices.Clone(transitions)
}

// buildTable binds the transition rows to the controller actions.
func (c *Controller) buildTable() (*runtime.Table[domain.State, domain.Message], error) {
	actions := map[string]runtime.ActionFunc[domain.State, domain.Message]{
		domain.ActionBeginRun:  c.beginRun,
		domain.ActionResumeRun: c.resumeRun,
		domain.ActionAbortRun:  c.abortRun,
	}

	table := runtime.NewTable[domain.State, domain.Message]()
	for _, tr := range transitions {
		table.Add(tr.From, tr.Message, tr.To, tr.Action, actions[tr.Action])
	}
	if err := table.Validate(domain.States); err != nil {
		return nil, err
	}
	return table, nil
}
