/*
Package jobctl controls the execution of machine jobs (pick and place, paste and glue
dispensing) through a small, fixed state machine.

# Concept

An operator drives the machine with three commands: StartOrPause, Step and Abort.
They become messages to a state machine with three states (Stopped, Running and
Stepping). Leaving Stopped begins a run on the processor selected by the workflow;
every processor call then executes on a single background worker, so the operator
surface never blocks on the machine. When an operation fails, a decision source
chooses to retry it, skip it or pause the run.

# Packages

  - pkg/controller: the job execution controller.
  - pkg/domain: states, messages, jobs, run records and events.
  - pkg/ports: processor, decision, gate, store and lock interfaces.
  - pkg/decision: static, policy, terminal prompt and mailbox decision sources.
  - pkg/adapters: in-memory and redis storage, simulated processors, HTTP and MCP surfaces.
  - pkg/observability: Prometheus metrics and structured logging hooks.

# Usage

	reg := registry.NewRegistry()
	reg.Register(domain.ProcessorPickAndPlace, myPlacer)

	ctrl, err := controller.New(reg, job,
		controller.WithDecisionSource(decision.Policy{MaxRetries: 2}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer ctrl.Close(context.Background())

	_ = ctrl.StartOrPause(ctx)
*/
package jobctl
