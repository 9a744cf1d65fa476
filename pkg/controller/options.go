package controller

import (
	"log/slog"
	"time"

	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

// Option defines a functional option for configuring the Controller.
type Option func(*Controller)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithDecisionSource configures who resolves operation failures.
// Defaults to always pausing.
func WithDecisionSource(src ports.DecisionSource) Option {
	return func(c *Controller) {
		c.decisions = src
	}
}

// WithReadinessGate configures the machine readiness gate.
// Defaults to always enabled.
func WithReadinessGate(gate ports.ReadinessGate) Option {
	return func(c *Controller) {
		c.gate = gate
	}
}

// WithStatusSink configures where processor and controller status text goes.
func WithStatusSink(sink ports.StatusSink) Option {
	return func(c *Controller) {
		c.status = sink
	}
}

// WithLifecycleHooks registers observability callbacks.
// Multiple calls combine the hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Controller) {
		c.hooks = append(c.hooks, hooks)
	}
}

// WithRunStore persists run records.
func WithRunStore(store ports.RunStore) Option {
	return func(c *Controller) {
		c.store = store
	}
}

// WithLocker holds a distributed lock on the machine ID for the duration of each run.
// The ttl bounds how long a crashed holder keeps the machine locked.
func WithLocker(locker ports.DistributedLocker, ttl, acquireTimeout time.Duration) Option {
	return func(c *Controller) {
		c.locker = locker
		c.lockTTL = ttl
		c.lockTimeout = acquireTimeout
	}
}

// WithMachineID names the machine driven by this controller.
func WithMachineID(id string) Option {
	return func(c *Controller) {
		c.machineID = id
	}
}

// WithWorkflow sets the initially selected workflow. Defaults to placement.
func WithWorkflow(w domain.Workflow) Option {
	return func(c *Controller) {
		c.workflow = w
	}
}
