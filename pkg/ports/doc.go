/*
Package ports defines the driven ports (interfaces) of the job controller.

These interfaces decouple the controller from machine hardware, operator surfaces
and storage backends.

# Key Interfaces

  - JobProcessor: Executes a job one operation at a time (pick-and-place, paste, glue).
  - DecisionSource: Chooses Retry, Skip or Pause when an operation fails.
  - ReadinessGate: Reports whether the machine accepts start and step commands.
  - StatusSink: Receives human-readable status text.
  - RunStore: Persists run records.
  - DistributedLocker: Ensures a single controller drives a machine across replicas.
*/
package ports
