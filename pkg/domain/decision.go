package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Decision is the resolution chosen for an operation failure.
type Decision string

const (
	DecisionRetry Decision = "retry"
	DecisionSkip  Decision = "skip"
	DecisionPause Decision = "pause"
)

// Options returns the decisions offered for a failure.
// Skip is only offered when the processor currently supports skipping.
func Options(canSkip bool) []Decision {
	if canSkip {
		return []Decision{DecisionRetry, DecisionSkip, DecisionPause}
	}
	return []Decision{DecisionRetry, DecisionPause}
}

// Offered reports whether d is one of the offered options.
func Offered(options []Decision, d Decision) bool {
	return slices.Contains(options, d)
}

// ParseDecision accepts the canonical names plus the labels shown to operators
// ("try again", "pause job") and single-letter shortcuts.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retry", "try again", "r":
		return DecisionRetry, nil
	case "skip", "s":
		return DecisionSkip, nil
	case "pause", "pause job", "p":
		return DecisionPause, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}
