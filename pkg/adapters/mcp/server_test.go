package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/pkg/adapters/sim"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/registry"
)

func newTestServer(t *testing.T, opts sim.Options) (*Server, *controller.Controller, *decision.Mailbox) {
	t.Helper()
	reg := registry.NewRegistry()
	reg.Register(domain.ProcessorPickAndPlace, sim.New(domain.ProcessorPickAndPlace, opts))
	mailbox := decision.NewMailbox()

	job := domain.NewJob("board", domain.Operation{ID: "op1"}, domain.Operation{ID: "op2"})
	ctrl, err := controller.New(reg, job, controller.WithDecisionSource(mailbox))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	})
	return NewServer(ctrl, WithMailbox(mailbox)), ctrl, mailbox
}

func waitIdle(t *testing.T, ctrl *controller.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.WaitIdle(ctx))
}

func TestServer_StateAndCommands(t *testing.T) {
	s, ctrl, _ := newTestServer(t, sim.Options{})
	ctx := context.Background()

	st, err := s.handleState(ctx, mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, st.State)

	_, err = s.handleCommand(ctx, mcp.CallToolRequest{}, map[string]any{"command": "launch"})
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)

	_, err = s.handleCommand(ctx, mcp.CallToolRequest{}, map[string]any{"command": "abort"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	st, err = s.handleCommand(ctx, mcp.CallToolRequest{}, map[string]any{"command": "step"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateStepping, st.State)
	waitIdle(t, ctrl)

	_, err = s.handleSelectWorkflow(ctx, mcp.CallToolRequest{}, map[string]any{"workflow": "placement"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	st, err = s.handleMachineDisabled(ctx, mcp.CallToolRequest{}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	waitIdle(t, ctrl)
	assert.Equal(t, domain.StateStopped, ctrl.State())

	_, err = s.handleCommand(ctx, mcp.CallToolRequest{}, map[string]any{"command": "start"})
	assert.ErrorIs(t, err, domain.ErrMachineDisabled)
	assert.Equal(t, domain.StateStopped, ctrl.State())

	st, err = s.handleMachineEnabled(ctx, mcp.CallToolRequest{}, map[string]any{"reason": "door closed"})
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	_, err = s.handleSelectWorkflow(ctx, mcp.CallToolRequest{}, map[string]any{"workflow": "paste"})
	assert.ErrorIs(t, err, domain.ErrUnknownProcessor)
}

func TestServer_Decisions(t *testing.T) {
	s, ctrl, mailbox := newTestServer(t, sim.Options{Failures: map[string]int{"op1": 1}})
	ctx := context.Background()

	_, err := s.handleCommand(ctx, mcp.CallToolRequest{}, map[string]any{"command": "start"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(mailbox.Pending()) == 1 }, 5*time.Second, 5*time.Millisecond)

	resp, err := s.handleListDecisions(ctx, mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, 1, resp.Requests[0].Event.Attempt)

	assert.ErrorIs(t, s.resolve(map[string]any{"decision": "skip"}), domain.ErrUnknownDecision)
	assert.ErrorIs(t, s.resolve(map[string]any{"decision": "retry", "id": "nope"}), decision.ErrRequestNotFound)
	require.NoError(t, s.resolve(map[string]any{"decision": "retry"}))

	waitIdle(t, ctrl)
	assert.Equal(t, domain.StateStopped, ctrl.State())
	run, _ := ctrl.Run()
	assert.Equal(t, domain.OutcomeFinished, run.Outcome)
}
