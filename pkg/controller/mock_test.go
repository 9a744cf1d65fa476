package controller_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/domain"
)

// MockProcessor for verifying the processor call sequence
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Initialize(ctx context.Context, job *domain.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockProcessor) Next(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessor) Skip(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProcessor) Abort(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProcessor) CanSkip() bool {
	return m.Called().Bool(0)
}

type MockDecisionSource struct {
	mock.Mock
}

func (m *MockDecisionSource) Decide(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(domain.Decision), args.Error(1)
}

func TestController_ProcessorCallSequence(t *testing.T) {
	job := testJob()
	proc := new(MockProcessor)
	proc.On("Initialize", mock.Anything, job).Return(nil).Once()
	proc.On("Next", mock.Anything).Return(true, errors.New("nozzle blocked")).Once()
	proc.On("CanSkip").Return(true).Maybe()
	proc.On("Skip", mock.Anything).Return(nil).Once()
	proc.On("Next", mock.Anything).Return(false, nil).Once()

	decisions := new(MockDecisionSource)
	decisions.On("Decide", mock.Anything, mock.MatchedBy(func(ev *domain.FailureEvent) bool {
		return ev.Attempt == 1 && domain.Offered(ev.Options, domain.DecisionSkip)
	})).Return(domain.DecisionSkip, nil).Once()

	c := newController(t, pnpRegistry(proc), job, controller.WithDecisionSource(decisions))
	require.NoError(t, c.StartOrPause(context.Background()))
	waitIdle(t, c)

	assert.Equal(t, domain.StateStopped, c.State())
	run, ok := c.Run()
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeFinished, run.Outcome)
	assert.Equal(t, 1, run.Skipped)

	proc.AssertExpectations(t)
	proc.AssertNotCalled(t, "Abort", mock.Anything)
	decisions.AssertExpectations(t)
}
