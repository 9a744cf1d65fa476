package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Overlay highlights the live position of a controller on the graph.
type Overlay struct {
	Current domain.State
	// Last is the most recent transition taken, if any.
	Last *domain.Transition
}

// GenerateMermaid produces a Mermaid flowchart of a transition table.
// The rest state is drawn as a circle; rows with an action carry it in the edge label.
func GenerateMermaid(rows []domain.Transition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	seen := make(map[domain.State]bool)
	var states []domain.State
	for _, r := range rows {
		for _, s := range []domain.State{r.From, r.To} {
			if !seen[s] {
				seen[s] = true
				states = append(states, s)
			}
		}
	}

	for _, s := range states {
		opener, closer := "[", "]"
		if s == domain.StateStopped {
			opener, closer = "((", "))"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(string(s)), opener, s, closer)
	}

	for _, r := range rows {
		label := string(r.Message)
		if r.Action != "" {
			label += " / " + r.Action
		}
		arrow := fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(label, "\"", "'"))
		if r.Message == domain.MessageFinished {
			// Internal message, sent by the worker rather than the operator.
			arrow = fmt.Sprintf("-. \"%s\" .->", label)
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(string(r.From)), arrow, sanitizeMermaidID(string(r.To)))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		if overlay.Last != nil && overlay.Last.From != overlay.Current {
			fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(string(overlay.Last.From)))
		}
		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(string(overlay.Current)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
