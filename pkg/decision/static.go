package decision

import (
	"context"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Static always returns the same decision.
type Static domain.Decision

// Decide implements ports.DecisionSource.
func (s Static) Decide(context.Context, *domain.FailureEvent) (domain.Decision, error) {
	return domain.Decision(s), nil
}

// Func adapts a function to ports.DecisionSource.
type Func func(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error)

// Decide implements ports.DecisionSource.
func (f Func) Decide(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error) {
	return f(ctx, ev)
}

// Policy retries a failed operation up to MaxRetries times. After that it skips
// when skipping is offered and pauses otherwise.
type Policy struct {
	MaxRetries int
}

// Decide implements ports.DecisionSource.
func (p Policy) Decide(_ context.Context, ev *domain.FailureEvent) (domain.Decision, error) {
	if ev.Attempt <= p.MaxRetries && domain.Offered(ev.Options, domain.DecisionRetry) {
		return domain.DecisionRetry, nil
	}
	if domain.Offered(ev.Options, domain.DecisionSkip) {
		return domain.DecisionSkip, nil
	}
	return domain.DecisionPause, nil
}
