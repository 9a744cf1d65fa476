// Package controller drives a machine job through the Stopped, Running and Stepping
// states.
//
// Operator commands become state machine messages. Every processor call runs on a
// single background worker, and results come back on a separate callback goroutine
// where failures are resolved through a DecisionSource.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/jobctl/internal/runtime"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
	"github.com/aretw0/jobctl/pkg/registry"
	"github.com/aretw0/jobctl/pkg/worker"
)

// Controller is the job execution controller. Safe for concurrent use.
type Controller struct {
	registry  *registry.Registry
	machine   *machine
	worker    *worker.Dispatcher
	logger    *slog.Logger
	decisions ports.DecisionSource
	gate      ports.ReadinessGate
	disabled  atomic.Bool // Set by MachineDisabled, cleared by MachineEnabled
	status    ports.StatusSink
	hooks     []domain.LifecycleHooks
	hook      domain.LifecycleHooks
	store     ports.RunStore
	machineID string

	locker      ports.DistributedLocker
	lockTTL     time.Duration
	lockTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// decideCtx is cancelled by Close so pending decisions give up.
	decideCtx    context.Context
	stopDeciding context.CancelFunc

	// phase mirrors the machine under its commit lock. Never call the machine while holding phaseMu.
	phaseMu sync.Mutex
	phase   phase

	mu       sync.Mutex
	job      *domain.Job
	workflow domain.Workflow
	previous domain.ProcessorKind // Processor of the last run; empty before the first one
	active   *activeRun
	lastRun  *domain.RunRecord
}

// phase is the machine state plus the run epoch. The epoch is the version of the
// commit that left Stopped, so work queued for an older run can recognise itself.
type phase struct {
	state   domain.State
	version uint64
	epoch   uint64
	aborts  map[uint64]uint64 // Abort commit version -> epoch of the aborted run
}

// activeRun is owned by the worker goroutine except where noted.
type activeRun struct {
	epoch    uint64
	kind     domain.ProcessorKind
	proc     ports.JobProcessor
	job      *domain.Job
	unlock   ports.UnlockFunc
	record   *domain.RunRecord // Guarded by Controller.mu
	failures int               // Consecutive failures of the current operation; guarded by Controller.mu
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     domain.State           `json:"state"`
	Version   uint64                 `json:"version"`
	Workflow  domain.Workflow        `json:"workflow"`
	Enabled   bool                   `json:"enabled"`
	Commands  domain.Availability    `json:"commands"`
	JobName   string                 `json:"job_name,omitempty"`
	JobLength int                    `json:"job_length"`
	Run       *domain.RunRecord      `json:"run,omitempty"`
	Kinds     []domain.ProcessorKind `json:"processors"`
}

// New creates a controller for job using the processors in reg.
// It fails if the selected workflow cannot resolve to a registered processor.
func New(reg *registry.Registry, job *domain.Job, opts ...Option) (*Controller, error) {
	if reg == nil {
		return nil, errors.New("controller: nil registry")
	}
	if job == nil {
		job = domain.NewJob("")
	}

	c := &Controller{
		registry:    reg,
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		decisions:   decision.Static(domain.DecisionPause),
		gate:        ports.GateFunc(func() bool { return true }),
		status:      ports.StatusSinkFunc(func(string) {}),
		lockTTL:     30 * time.Second,
		lockTimeout: 5 * time.Second,
		machineID:   "default",
		job:         job,
		workflow:    domain.WorkflowPlacement,
		phase:       phase{state: domain.StateStopped, aborts: make(map[uint64]uint64)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hook = domain.CombineHooks(c.hooks...)

	if err := c.resolvable(c.workflow); err != nil {
		return nil, err
	}

	table, err := c.buildTable()
	if err != nil {
		return nil, fmt.Errorf("controller: invalid transition table: %w", err)
	}
	c.machine = runtime.NewMachine(table, domain.StateStopped, runtime.WithLogger(c.logger))
	c.machine.OnCommit(c.onCommit)
	c.machine.Observe(c.onTransition)

	c.worker = worker.New(worker.WithLogger(c.logger))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.decideCtx, c.stopDeciding = context.WithCancel(c.ctx)
	if err := c.worker.Start(c.ctx); err != nil {
		return nil, err
	}

	for _, kind := range reg.Kinds() {
		p, _ := reg.Get(kind)
		if em, ok := p.(ports.StatusEmitter); ok {
			em.AddStatusListener(c.status.Status)
		}
	}
	return c, nil
}

// resolvable checks that a workflow selects at least one registered processor.
func (c *Controller) resolvable(w domain.Workflow) error {
	switch w {
	case domain.WorkflowPaste:
		if !c.registry.Has(domain.ProcessorPasteDispense) {
			return fmt.Errorf("workflow %s: %w: %s", w, domain.ErrUnknownProcessor, domain.ProcessorPasteDispense)
		}
	case domain.WorkflowPlacement:
		if !c.registry.Has(domain.ProcessorPickAndPlace) {
			return fmt.Errorf("workflow %s: %w: %s", w, domain.ErrUnknownProcessor, domain.ProcessorPickAndPlace)
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownWorkflow, w)
	}
	return nil
}

// selectProcessor picks the processor for a new run. Placement runs the glue
// dispenser first when one is registered and the previous run was not glue.
func (c *Controller) selectProcessor(w domain.Workflow, previous domain.ProcessorKind) (domain.ProcessorKind, error) {
	if err := c.resolvable(w); err != nil {
		return "", err
	}
	if w == domain.WorkflowPaste {
		return domain.ProcessorPasteDispense, nil
	}
	if c.registry.Has(domain.ProcessorGlueDispense) &&
		(previous == "" || previous == domain.ProcessorPickAndPlace) {
		return domain.ProcessorGlueDispense, nil
	}
	return domain.ProcessorPickAndPlace, nil
}

// StartOrPause starts a run when Stopped, pauses into Stepping when Running and
// resumes when Stepping. Refused with domain.ErrMachineDisabled while the machine is disabled.
func (c *Controller) StartOrPause(ctx context.Context) error {
	return c.gated(ctx, domain.MessageStartOrPause)
}

// Step starts a run in Stepping mode or executes one more operation when Stepping.
// Refused with domain.ErrMachineDisabled while the machine is disabled.
func (c *Controller) Step(ctx context.Context) error {
	return c.gated(ctx, domain.MessageStep)
}

// Abort stops the active run. Always allowed.
func (c *Controller) Abort(ctx context.Context) error {
	_, err := c.machine.Send(ctx, domain.MessageAbort)
	return err
}

// Start selects a workflow and starts a run.
func (c *Controller) Start(ctx context.Context, w domain.Workflow) error {
	if err := c.SelectWorkflow(w); err != nil {
		return err
	}
	return c.StartOrPause(ctx)
}

// Dispatch executes an operator command.
func (c *Controller) Dispatch(ctx context.Context, cmd domain.Command) error {
	switch cmd {
	case domain.CommandStartOrPause:
		return c.StartOrPause(ctx)
	case domain.CommandStep:
		return c.Step(ctx)
	case domain.CommandAbort:
		return c.Abort(ctx)
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd)
}

// enabled reports whether start and step are accepted: the machine has not been
// disabled and the readiness gate is open.
func (c *Controller) enabled() bool {
	return !c.disabled.Load() && c.gate.Enabled()
}

func (c *Controller) gated(ctx context.Context, msg domain.Message) error {
	if !c.enabled() {
		return fmt.Errorf("%s: %w", msg, domain.ErrMachineDisabled)
	}
	_, err := c.machine.Send(ctx, msg)
	return err
}

// MachineDisabled reacts to the machine becoming unavailable by aborting any active run.
// Start and step are refused until MachineEnabled is called.
func (c *Controller) MachineDisabled(ctx context.Context, reason string) error {
	c.disabled.Store(true)
	c.logger.Warn("machine disabled", "machine_id", c.machineID, "reason", reason)
	c.status.Status("machine disabled: " + reason)
	if c.State() == domain.StateStopped {
		return nil
	}
	err := c.Abort(ctx)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Stopped concurrently.
		return nil
	}
	return err
}

// MachineEnabled accepts start and step again after MachineDisabled. The readiness
// gate still applies.
func (c *Controller) MachineEnabled(_ context.Context, reason string) error {
	if !c.disabled.Swap(false) {
		return nil
	}
	c.logger.Info("machine enabled", "machine_id", c.machineID, "reason", reason)
	c.status.Status("machine enabled: " + reason)
	return nil
}

// SelectWorkflow changes the workflow used by the next run. Only allowed while Stopped.
func (c *Controller) SelectWorkflow(w domain.Workflow) error {
	if err := c.resolvable(w); err != nil {
		return err
	}
	if st := c.State(); st != domain.StateStopped {
		return fmt.Errorf("select workflow in state %s: %w", st, domain.ErrInvalidTransition)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflow = w
	return nil
}

// Workflow returns the selected workflow.
func (c *Controller) Workflow() domain.Workflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflow
}

// SetJob replaces the job. Fails with domain.ErrJobLocked while a run is active.
func (c *Controller) SetJob(job *domain.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil || c.job.Locked() {
		return domain.ErrJobLocked
	}
	c.job = job
	return nil
}

// Job returns the current job.
func (c *Controller) Job() *domain.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// State returns the current state. It never blocks on in-flight work.
func (c *Controller) State() domain.State {
	return c.machine.State()
}

// Commands reports which commands are currently available.
func (c *Controller) Commands() domain.Availability {
	return domain.AvailabilityFor(c.State(), c.enabled())
}

// Snapshot returns a point-in-time view of the controller.
func (c *Controller) Snapshot() Status {
	state, version := c.machine.Snapshot()
	enabled := c.enabled()

	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:     state,
		Version:   version,
		Workflow:  c.workflow,
		Enabled:   enabled,
		Commands:  domain.AvailabilityFor(state, enabled),
		JobName:   c.job.Name,
		JobLength: c.job.Len(),
		Kinds:     c.registry.Kinds(),
	}
	if r := c.currentRecordLocked(); r != nil {
		cp := *r
		s.Run = &cp
	}
	return s
}

// Run returns the active run record, or the last finished one.
func (c *Controller) Run() (*domain.RunRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.currentRecordLocked()
	if r == nil {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (c *Controller) currentRecordLocked() *domain.RunRecord {
	if c.active != nil && c.active.record != nil {
		return c.active.record
	}
	return c.lastRun
}

// Observe subscribes fn to committed state changes. The returned func unsubscribes.
func (c *Controller) Observe(fn func(ctx context.Context, ev *domain.StateEvent)) (cancel func()) {
	return c.machine.Observe(func(ctx context.Context, ev transitionEvent) {
		fn(ctx, c.stateEvent(ev))
	})
}

// Await blocks until the controller reaches state s or ctx ends.
func (c *Controller) Await(ctx context.Context, s domain.State) error {
	_, _, err := c.machine.Await(ctx, func(cur domain.State, _ uint64) bool { return cur == s })
	return err
}

// WaitIdle blocks until every queued processor call and its callback have completed.
func (c *Controller) WaitIdle(ctx context.Context) error {
	return c.worker.WaitIdle(ctx)
}

// Close aborts any active run, cancels pending decisions and stops the worker.
func (c *Controller) Close(ctx context.Context) error {
	if c.State() != domain.StateStopped {
		if err := c.Abort(ctx); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			c.logger.Warn("abort on close failed", "err", err)
		}
	}
	c.stopDeciding()
	err := c.worker.Stop(ctx)
	c.cancel()
	return err
}

func (c *Controller) onCommit(ev transitionEvent) {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.phase.state = ev.To
	c.phase.version = ev.Version
	if ev.From == domain.StateStopped && ev.To != domain.StateStopped {
		c.phase.epoch = ev.Version
	}
	if ev.Message == domain.MessageAbort && ev.To == domain.StateStopped {
		c.phase.aborts[ev.Version] = c.phase.epoch
	}
}

func (c *Controller) currentPhase() phase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	p := c.phase
	p.aborts = nil
	return p
}

func (c *Controller) onTransition(ctx context.Context, ev transitionEvent) {
	se := c.stateEvent(ev)
	c.mu.Lock()
	if c.active != nil {
		c.active.record.State = ev.To
	}
	c.mu.Unlock()
	c.logger.Info("state changed", "from", ev.From, "to", ev.To, "message", ev.Message, "version", ev.Version, "reverted", ev.Reverted)
	if c.hook.OnStateChange != nil {
		c.hook.OnStateChange(ctx, se)
	}
}

func (c *Controller) stateEvent(ev transitionEvent) *domain.StateEvent {
	se := &domain.StateEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventStateChange},
		From:      ev.From,
		To:        ev.To,
		Message:   ev.Message,
		Version:   ev.Version,
		Reverted:  ev.Reverted,
	}
	c.mu.Lock()
	if r := c.currentRecordLocked(); r != nil {
		se.RunID = r.ID
	}
	c.mu.Unlock()
	return se
}
