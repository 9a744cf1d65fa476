package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/jobctl/pkg/domain"
)

// LogHooks returns lifecycle hooks that write one structured line per event.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *domain.StateEvent) {
			logger.InfoContext(ctx, "state_change",
				"from", e.From,
				"to", e.To,
				"message", e.Message,
				"version", e.Version,
				"reverted", e.Reverted,
			)
		},
		OnRunStart: func(ctx context.Context, r *domain.RunRecord) {
			logger.InfoContext(ctx, "run_start", "run_id", r.ID, "processor", r.Processor, "job", r.JobName)
		},
		OnRunEnd: func(ctx context.Context, r *domain.RunRecord) {
			logger.InfoContext(ctx, "run_end",
				"run_id", r.ID,
				"outcome", r.Outcome,
				"completed", r.Completed,
				"skipped", r.Skipped,
				"failures", r.Failures,
			)
		},
		OnOperation: func(ctx context.Context, e *domain.OperationEvent) {
			logger.DebugContext(ctx, "operation", "processor", e.Processor, "op", e.Op, "duration", e.Duration, "err", e.Err)
		},
		OnFailure: func(ctx context.Context, e *domain.FailureEvent) {
			logger.WarnContext(ctx, "failure",
				"processor", e.Processor,
				"op", e.Op,
				"attempt", e.Attempt,
				"decision", e.Decision,
				"err", e.Message,
			)
		},
	}
}
