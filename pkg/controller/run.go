package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

var errRunCancelled = errors.New("run stopped before it could start")

// unitResult is the outcome of a run-loop unit delivered to the completion callback.
type unitResult struct {
	kind     domain.ProcessorKind
	finished bool   // The processor reported no more operations and the run ended
	version  uint64 // Version of the Finished commit when finished
}

// unitFailure carries a processor failure from the worker to the failure callback.
// canSkip is sampled on the worker so the callback never touches the processor.
type unitFailure struct {
	epoch   uint64
	kind    domain.ProcessorKind
	op      string
	attempt int
	canSkip bool
	err     error
}

func (f *unitFailure) Error() string { return f.err.Error() }
func (f *unitFailure) Unwrap() error { return f.err }

// beginRun is bound to Stopped --StartOrPause/Step-->.
func (c *Controller) beginRun(ctx context.Context, ev transitionEvent) error {
	c.mu.Lock()
	job, w, previous := c.job, c.workflow, c.previous
	c.mu.Unlock()

	// Initialization goes through the worker so it is ordered after any pending abort.
	_, err := c.worker.Call(context.WithoutCancel(ctx), domain.ActionBeginRun, func(wctx context.Context) (any, error) {
		return c.prepareRun(wctx, ev.Version, job, w, previous)
	})
	if err != nil {
		c.logger.Error("run failed to start", "workflow", w, "err", err)
		c.status.Status("run failed to start: " + err.Error())
		return err
	}
	c.submitUnit(ev.Version, ev.Version, false)
	return nil
}

// resumeRun is bound to Stepping --StartOrPause/Step-->.
func (c *Controller) resumeRun(_ context.Context, ev transitionEvent) error {
	c.submitUnit(c.currentPhase().epoch, ev.Version, false)
	return nil
}

// abortRun is bound to Running/Stepping --Abort-->.
func (c *Controller) abortRun(_ context.Context, ev transitionEvent) error {
	c.submitAbort(c.takeAbortEpoch(ev.Version))
	return nil
}

// prepareRun runs on the worker: it locks the machine and the job, then initializes
// the selected processor.
func (c *Controller) prepareRun(ctx context.Context, epoch uint64, job *domain.Job, w domain.Workflow, previous domain.ProcessorKind) (*activeRun, error) {
	if p := c.currentPhase(); !p.state.Active() || p.epoch != epoch {
		return nil, errRunCancelled
	}

	// A previous run still active here was aborted and its abort has not run yet.
	c.mu.Lock()
	stale := c.active
	c.mu.Unlock()
	if stale != nil {
		if err := c.abortActive(ctx, stale); err != nil {
			return nil, fmt.Errorf("previous run %s: %w", stale.record.ID, err)
		}
	}

	kind, err := c.selectProcessor(w, previous)
	if err != nil {
		return nil, err
	}
	proc, err := c.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	var unlock ports.UnlockFunc
	if c.locker != nil {
		lctx, cancel := context.WithTimeout(ctx, c.lockTimeout)
		unlock, err = c.locker.Lock(lctx, c.machineID, c.lockTTL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("lock machine %s: %w", c.machineID, err)
		}
	}
	release := func() {
		if unlock != nil {
			if err := unlock(context.Background()); err != nil {
				c.logger.Warn("failed to release machine lock", "machine_id", c.machineID, "err", err)
			}
		}
	}

	if err := job.Claim(); err != nil {
		release()
		return nil, err
	}

	start := time.Now()
	err = proc.Initialize(ctx, job)
	c.emitOperation(kind, "", "initialize", start, false, err)
	if err != nil {
		job.Release()
		release()
		initErr := &domain.ProcessorInitError{Kind: kind, Err: err}
		c.reportFailure(&domain.FailureEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventFailure},
			Processor: kind,
			Op:        "initialize",
			Err:       initErr,
			Message:   initErr.Error(),
			Attempt:   1,
		})
		return nil, initErr
	}

	now := time.Now()
	run := &activeRun{
		epoch:  epoch,
		kind:   kind,
		proc:   proc,
		job:    job,
		unlock: unlock,
		record: &domain.RunRecord{
			ID:         uuid.NewString(),
			MachineID:  c.machineID,
			JobName:    job.Name,
			Workflow:   w,
			Processor:  kind,
			State:      c.currentPhase().state,
			Operations: job.Len(),
			StartedAt:  now,
			UpdatedAt:  now,
		},
	}

	c.mu.Lock()
	c.active = run
	c.previous = kind
	rec := *run.record
	c.mu.Unlock()

	c.logger.Info("run started", "run_id", rec.ID, "processor", kind, "workflow", w, "operations", rec.Operations)
	c.status.Status(fmt.Sprintf("%s started: %s", kind, job.Name))
	c.save(&rec)
	if c.hook.OnRunStart != nil {
		c.hook.OnRunStart(ctx, &rec)
	}
	return run, nil
}

// runFor returns the active run for epoch if the machine is still running it.
func (c *Controller) runFor(epoch uint64) (*activeRun, domain.State, bool) {
	p := c.currentPhase()
	if !p.state.Active() || p.epoch != epoch {
		return nil, p.state, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.epoch != epoch {
		return nil, p.state, false
	}
	return c.active, p.state, true
}

func (c *Controller) submitUnit(epoch, version uint64, skipFirst bool) {
	name := "run"
	if skipFirst {
		name = "skip"
	}
	err := c.worker.Submit(name,
		func(ctx context.Context) (any, error) {
			return c.runUnit(ctx, epoch, version, skipFirst)
		},
		func(v any) {
			c.onUnitDone(v.(unitResult))
		},
		func(err error) {
			c.onUnitFailed(epoch, err)
		},
	)
	if err != nil {
		c.logger.Error("failed to submit run unit", "err", err)
	}
}

// runUnit executes operations while the run is current: a single one when Stepping,
// until finished or paused when Running.
func (c *Controller) runUnit(ctx context.Context, epoch, version uint64, skipFirst bool) (unitResult, error) {
	if _, _, err := c.machine.AwaitVersion(ctx, version); err != nil {
		return unitResult{}, err
	}
	run, _, ok := c.runFor(epoch)
	if !ok {
		c.logger.Debug("dropping run unit for a stopped run", "epoch", epoch)
		return unitResult{}, nil
	}

	if skipFirst {
		start := time.Now()
		err := run.proc.Skip(ctx)
		c.emitOperation(run.kind, run.record.ID, "skip", start, false, err)
		if err != nil {
			return unitResult{}, c.failure(run, "skip", err)
		}
		c.progress(run, func(r *domain.RunRecord) { r.Skipped++ })
	}

	for {
		start := time.Now()
		more, err := run.proc.Next(ctx)
		c.emitOperation(run.kind, run.record.ID, "next", start, more, err)
		if err != nil {
			return unitResult{}, c.failure(run, "next", err)
		}
		c.progress(run, func(r *domain.RunRecord) { r.Completed++ })

		if !more {
			return c.finish(ctx, run), nil
		}
		if _, state, ok := c.runFor(epoch); !ok || state != domain.StateRunning {
			return unitResult{kind: run.kind}, nil
		}
	}
}

// finish ends the run after the processor reported no more operations.
func (c *Controller) finish(ctx context.Context, run *activeRun) unitResult {
	ev, err := c.machine.Send(ctx, domain.MessageFinished)
	if err != nil {
		// Aborted concurrently; the abort finalizes the run.
		c.logger.Debug("finished after abort", "run_id", run.record.ID, "err", err)
		return unitResult{kind: run.kind}
	}
	c.finalize(ctx, run, domain.OutcomeFinished, nil)
	return unitResult{kind: run.kind, finished: true, version: ev.Version}
}

// onUnitDone runs on the callback goroutine.
func (c *Controller) onUnitDone(res unitResult) {
	if !res.finished || res.kind != domain.ProcessorGlueDispense {
		return
	}
	// Only chain from the Stopped state the glue run left behind.
	if st, v := c.machine.Snapshot(); st != domain.StateStopped || v != res.version {
		c.logger.Info("glue dispensing finished, machine moved on; not starting pick and place", "state", st, "version", v)
		return
	}
	// Glue dispensing is the first half of placement: start pick and place.
	c.logger.Info("glue dispensing finished, starting pick and place")
	if err := c.StartOrPause(c.ctx); err != nil {
		c.logger.Warn("could not chain pick and place", "err", err)
		c.status.Status("could not start pick and place: " + err.Error())
	}
}

// onUnitFailed runs on the callback goroutine.
func (c *Controller) onUnitFailed(epoch uint64, err error) {
	var uf *unitFailure
	if !errors.As(err, &uf) {
		uf = &unitFailure{epoch: epoch, op: "next", attempt: 1, err: err}
		if run, _, ok := c.runFor(epoch); ok {
			uf.kind = run.kind
		}
	}
	ev := c.failureEvent(uf)

	_, state, ok := c.runFor(epoch)
	if !ok {
		c.reportFailure(ev)
		return
	}

	ev.Options = domain.Options(uf.canSkip)
	ev.Decision = c.decide(ev)
	c.logger.Warn("operation failed", "processor", ev.Processor, "op", ev.Op, "attempt", ev.Attempt, "decision", ev.Decision, "err", err)
	c.status.Status(fmt.Sprintf("%s failed: %s (%s)", ev.Processor, ev.Message, ev.Decision))
	if c.hook.OnFailure != nil {
		c.hook.OnFailure(c.ctx, ev)
	}

	// The operator may have aborted while the decision was pending.
	if _, state, ok = c.runFor(epoch); !ok {
		c.logger.Info("run stopped while resolving failure, ignoring decision", "decision", ev.Decision)
		return
	}

	switch ev.Decision {
	case domain.DecisionRetry:
		c.submitUnit(epoch, c.currentPhase().version, false)
	case domain.DecisionSkip:
		c.submitUnit(epoch, c.currentPhase().version, true)
	default:
		if state == domain.StateRunning {
			if _, err := c.machine.Send(c.ctx, domain.MessageStartOrPause); err != nil {
				c.logger.Debug("pause after failure not applied", "err", err)
			}
		}
	}
}

// decide consults the decision source. Errors and options that were not offered pause.
func (c *Controller) decide(ev *domain.FailureEvent) domain.Decision {
	d, err := c.decisions.Decide(c.decideCtx, ev)
	if err != nil {
		c.logger.Warn("decision source failed, pausing", "err", err)
		return domain.DecisionPause
	}
	if !domain.Offered(ev.Options, d) {
		c.logger.Warn("decision not offered, pausing", "decision", d, "options", ev.Options)
		return domain.DecisionPause
	}
	return d
}

// failure records a processor failure on the worker.
func (c *Controller) failure(run *activeRun, op string, err error) error {
	c.mu.Lock()
	run.failures++
	attempt := run.failures
	run.record.Failures++
	run.record.LastError = err.Error()
	run.record.UpdatedAt = time.Now()
	rec := *run.record
	c.mu.Unlock()
	c.save(&rec)

	return &unitFailure{
		epoch:   run.epoch,
		kind:    run.kind,
		op:      op,
		attempt: attempt,
		canSkip: run.proc.CanSkip(),
		err:     &domain.OperationError{Kind: run.kind, Op: op, Err: err},
	}
}

func (c *Controller) failureEvent(uf *unitFailure) *domain.FailureEvent {
	ev := &domain.FailureEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventFailure},
		Processor: uf.kind,
		Op:        uf.op,
		Err:       uf.err,
		Message:   uf.err.Error(),
		Attempt:   uf.attempt,
	}
	c.mu.Lock()
	if r := c.currentRecordLocked(); r != nil {
		ev.RunID = r.ID
	}
	c.mu.Unlock()
	return ev
}

// reportFailure surfaces a failure that is not offered for a decision.
func (c *Controller) reportFailure(ev *domain.FailureEvent) {
	c.logger.Error("processor failure", "processor", ev.Processor, "op", ev.Op, "err", ev.Err)
	c.status.Status(fmt.Sprintf("%s %s failed: %s", ev.Processor, ev.Op, ev.Message))
	if c.hook.OnFailure != nil {
		c.hook.OnFailure(c.ctx, ev)
	}
}

func (c *Controller) progress(run *activeRun, update func(*domain.RunRecord)) {
	c.mu.Lock()
	run.failures = 0
	update(run.record)
	run.record.UpdatedAt = time.Now()
	rec := *run.record
	c.mu.Unlock()
	c.save(&rec)
}

func (c *Controller) submitAbort(epoch uint64) {
	err := c.worker.Submit(domain.ActionAbortRun,
		func(ctx context.Context) (any, error) {
			c.mu.Lock()
			run := c.active
			c.mu.Unlock()
			if run == nil || run.epoch != epoch {
				return nil, nil
			}
			return nil, c.abortActive(ctx, run)
		},
		nil,
		func(err error) {
			c.onAbortFailed(epoch, err)
		},
	)
	if err != nil {
		c.logger.Error("failed to submit abort", "err", err)
	}
}

// abortActive aborts the processor and ends the run. Runs on the worker.
func (c *Controller) abortActive(ctx context.Context, run *activeRun) error {
	start := time.Now()
	err := run.proc.Abort(ctx)
	c.emitOperation(run.kind, run.record.ID, "abort", start, false, err)
	if err != nil {
		return c.failure(run, "abort", err)
	}
	c.finalize(ctx, run, domain.OutcomeAborted, nil)
	return nil
}

// onAbortFailed runs on the callback goroutine. Abort failures offer Retry or Pause;
// anything but Retry ends the run without a clean abort.
func (c *Controller) onAbortFailed(epoch uint64, err error) {
	var uf *unitFailure
	if !errors.As(err, &uf) {
		uf = &unitFailure{epoch: epoch, op: "abort", attempt: 1, err: err}
	}
	ev := c.failureEvent(uf)
	ev.Options = []domain.Decision{domain.DecisionRetry, domain.DecisionPause}
	ev.Decision = c.decide(ev)

	c.logger.Warn("abort failed", "processor", ev.Processor, "attempt", ev.Attempt, "decision", ev.Decision, "err", err)
	c.status.Status(fmt.Sprintf("%s abort failed: %s (%s)", ev.Processor, ev.Message, ev.Decision))
	if c.hook.OnFailure != nil {
		c.hook.OnFailure(c.ctx, ev)
	}

	if ev.Decision == domain.DecisionRetry {
		c.submitAbort(epoch)
		return
	}
	err = c.worker.Submit("release",
		func(ctx context.Context) (any, error) {
			c.mu.Lock()
			run := c.active
			c.mu.Unlock()
			if run != nil && run.epoch == epoch {
				c.finalize(ctx, run, domain.OutcomeAborted, uf.err)
			}
			return nil, nil
		}, nil, nil)
	if err != nil {
		c.logger.Error("failed to submit release", "err", err)
	}
}

// finalize ends the run: unlocks the job and the machine and closes the record.
func (c *Controller) finalize(ctx context.Context, run *activeRun, outcome domain.RunOutcome, cause error) {
	c.mu.Lock()
	if c.active != run {
		c.mu.Unlock()
		return
	}
	c.active = nil
	now := time.Now()
	run.record.Outcome = outcome
	run.record.State = domain.StateStopped
	run.record.UpdatedAt = now
	run.record.EndedAt = &now
	if cause != nil {
		run.record.LastError = cause.Error()
	}
	c.lastRun = run.record
	rec := *run.record
	c.mu.Unlock()

	run.job.Release()
	if run.unlock != nil {
		if err := run.unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("failed to release machine lock", "machine_id", c.machineID, "err", err)
		}
	}

	c.logger.Info("run ended", "run_id", rec.ID, "outcome", outcome, "completed", rec.Completed, "skipped", rec.Skipped, "failures", rec.Failures)
	c.status.Status(fmt.Sprintf("%s %s: %s", rec.Processor, outcome, rec.JobName))
	c.save(&rec)
	if c.hook.OnRunEnd != nil {
		c.hook.OnRunEnd(ctx, &rec)
	}
}

func (c *Controller) takeAbortEpoch(version uint64) uint64 {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	epoch, ok := c.phase.aborts[version]
	if !ok {
		return c.phase.epoch
	}
	delete(c.phase.aborts, version)
	return epoch
}

func (c *Controller) emitOperation(kind domain.ProcessorKind, runID, op string, start time.Time, more bool, err error) {
	if c.hook.OnOperation == nil {
		return
	}
	c.hook.OnOperation(c.ctx, &domain.OperationEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventOperation, RunID: runID},
		Processor: kind,
		Op:        op,
		Duration:  time.Since(start),
		More:      more,
		Err:       err,
	})
}

func (c *Controller) save(rec *domain.RunRecord) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, rec); err != nil {
		c.logger.Warn("failed to persist run", "run_id", rec.ID, "err", err)
	}
}
