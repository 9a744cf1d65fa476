/*
Package domain contains the core domain models of the jobctl execution controller.

It defines the vocabulary shared by the state machine, the controller and every
adapter: execution States, the Messages that move between them, the Job being
processed and the Decisions used to recover from operation failures. This package
is kept pure and free of external dependencies like I/O or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - State: Stopped, Running or Stepping. Stopped is both initial and the rest state between runs.
  - Message: StartOrPause, Step, Abort and Finished drive every transition.
  - Job: An ordered sequence of Operations, only mutable while no run holds it.
  - RunRecord: The observable summary of one run (processor, progress, outcome).
  - Decision: Retry, Skip or Pause, chosen by an external decision source after a failure.
*/
package domain
