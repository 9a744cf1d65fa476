package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/jobctl/pkg/domain"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// RunSummary describes a run record as markdown.
func RunSummary(r *domain.RunRecord) string {
	var sb strings.Builder
	title := r.JobName
	if title == "" {
		title = r.ID
	}
	fmt.Fprintf(&sb, "## Run %s\n\n", title)
	sb.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Run | `%s` |\n", r.ID)
	fmt.Fprintf(&sb, "| Processor | %s |\n", r.Processor)
	fmt.Fprintf(&sb, "| Workflow | %s |\n", r.Workflow)

	outcome := string(r.Outcome)
	if r.Active() {
		outcome = "in progress (" + string(r.State) + ")"
	}
	fmt.Fprintf(&sb, "| Outcome | %s |\n", outcome)
	fmt.Fprintf(&sb, "| Operations | %d completed, %d skipped of %d |\n", r.Completed, r.Skipped, r.Operations)
	fmt.Fprintf(&sb, "| Failures | %d |\n", r.Failures)
	if r.EndedAt != nil {
		fmt.Fprintf(&sb, "| Duration | %s |\n", r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.LastError != "" {
		fmt.Fprintf(&sb, "\n> Last error: %s\n", r.LastError)
	}
	return sb.String()
}
