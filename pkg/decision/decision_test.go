package decision_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

var (
	_ ports.DecisionSource = decision.Static(domain.DecisionPause)
	_ ports.DecisionSource = decision.Policy{}
	_ ports.DecisionSource = (*decision.Prompt)(nil)
	_ ports.DecisionSource = (*decision.Mailbox)(nil)
)

func failure(attempt int, canSkip bool) *domain.FailureEvent {
	return &domain.FailureEvent{
		Processor: domain.ProcessorPickAndPlace,
		Op:        "next",
		Message:   "pickup failed",
		Attempt:   attempt,
		Options:   domain.Options(canSkip),
	}
}

func TestPolicy(t *testing.T) {
	ctx := context.Background()
	p := decision.Policy{MaxRetries: 2}

	tests := []struct {
		name    string
		attempt int
		canSkip bool
		want    domain.Decision
	}{
		{"first failure retries", 1, true, domain.DecisionRetry},
		{"last retry", 2, false, domain.DecisionRetry},
		{"exhausted skips", 3, true, domain.DecisionSkip},
		{"exhausted pauses without skip", 3, false, domain.DecisionPause},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := p.Decide(ctx, failure(tt.attempt, tt.canSkip))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestStatic(t *testing.T) {
	d, err := decision.Static(domain.DecisionSkip).Decide(context.Background(), failure(1, true))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, d)
}

func TestPrompt(t *testing.T) {
	t.Run("Reasks until offered", func(t *testing.T) {
		var out strings.Builder
		p := decision.NewPrompt(strings.NewReader("maybe\nskip\ntry again\n"), &out)

		d, err := p.Decide(context.Background(), failure(1, false))
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionRetry, d)
		assert.Contains(t, out.String(), "pickup failed")
		assert.Contains(t, out.String(), "Please answer one of: [r]etry / [p]ause")
	})

	t.Run("EOF", func(t *testing.T) {
		p := decision.NewPrompt(strings.NewReader(""), io.Discard)
		_, err := p.Decide(context.Background(), failure(1, true))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Context", func(t *testing.T) {
		r, w := io.Pipe()
		defer w.Close()
		p := decision.NewPrompt(r, io.Discard)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.Decide(ctx, failure(1, true))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPromptCommand(t *testing.T) {
	var out strings.Builder
	p := decision.NewPrompt(strings.NewReader("\nr\nwhat\nstop\n"), &out)
	ctx := context.Background()

	for _, want := range []domain.Command{domain.CommandStep, domain.CommandStartOrPause, domain.CommandAbort} {
		cmd, err := p.Command(ctx, domain.StateStepping)
		require.NoError(t, err)
		assert.Equal(t, want, cmd)
	}
	assert.Contains(t, out.String(), "stepping: [enter] step")
	assert.Contains(t, out.String(), "Please answer step, resume or abort")

	_, err := p.Command(ctx, domain.StateStepping)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMailbox(t *testing.T) {
	t.Run("Resolve", func(t *testing.T) {
		m := decision.NewMailbox()
		requests := make(chan decision.Request, 1)
		cancel := m.Subscribe(func(r decision.Request) { requests <- r })
		defer cancel()

		result := make(chan domain.Decision, 1)
		go func() {
			d, err := m.Decide(context.Background(), failure(1, true))
			if err == nil {
				result <- d
			}
		}()

		req := <-requests
		require.Len(t, m.Pending(), 1)
		assert.Equal(t, req.ID, m.Pending()[0].ID)

		assert.ErrorIs(t, m.Resolve("nope", domain.DecisionSkip), decision.ErrRequestNotFound)
		require.NoError(t, m.Resolve(req.ID, domain.DecisionSkip))

		select {
		case d := <-result:
			assert.Equal(t, domain.DecisionSkip, d)
		case <-time.After(2 * time.Second):
			t.Fatal("Decide did not return")
		}
		assert.Eventually(t, func() bool { return len(m.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("Rejects options not offered", func(t *testing.T) {
		m := decision.NewMailbox()
		requests := make(chan decision.Request, 1)
		m.Subscribe(func(r decision.Request) { requests <- r })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := m.Decide(ctx, failure(1, false))
			done <- err
		}()

		req := <-requests
		assert.ErrorIs(t, m.Resolve(req.ID, domain.DecisionSkip), domain.ErrUnknownDecision)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("Timeout fallback", func(t *testing.T) {
		m := decision.NewMailbox(decision.WithTimeout(10*time.Millisecond, domain.DecisionPause))
		d, err := m.Decide(context.Background(), failure(1, true))
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionPause, d)
	})

	t.Run("ResolveOldest", func(t *testing.T) {
		m := decision.NewMailbox()
		assert.ErrorIs(t, m.ResolveOldest(domain.DecisionRetry), decision.ErrRequestNotFound)

		requests := make(chan decision.Request, 1)
		m.Subscribe(func(r decision.Request) { requests <- r })
		result := make(chan domain.Decision, 1)
		go func() {
			d, _ := m.Decide(context.Background(), failure(1, false))
			result <- d
		}()
		<-requests
		require.NoError(t, m.ResolveOldest(domain.DecisionRetry))
		assert.Equal(t, domain.DecisionRetry, <-result)
	})
}
