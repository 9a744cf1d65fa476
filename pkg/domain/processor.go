package domain

import "fmt"

// ProcessorKind selects which job processor owns a run.
type ProcessorKind string

const (
	ProcessorPickAndPlace  ProcessorKind = "pick_and_place"
	ProcessorPasteDispense ProcessorKind = "paste_dispense"
	ProcessorGlueDispense  ProcessorKind = "glue_dispense"
)

// ProcessorKinds lists every known processor kind.
var ProcessorKinds = []ProcessorKind{ProcessorPickAndPlace, ProcessorPasteDispense, ProcessorGlueDispense}

// ParseProcessorKind converts a string into a ProcessorKind.
func ParseProcessorKind(s string) (ProcessorKind, error) {
	for _, k := range ProcessorKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProcessor, s)
}

// Workflow is the job selector chosen by the operator.
// The placement workflow runs glue dispensing (when configured) before pick and place.
type Workflow string

const (
	WorkflowPlacement Workflow = "placement"
	WorkflowPaste     Workflow = "paste"
)

// ParseWorkflow converts a string into a Workflow.
func ParseWorkflow(s string) (Workflow, error) {
	switch Workflow(s) {
	case WorkflowPlacement, WorkflowPaste:
		return Workflow(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWorkflow, s)
}
