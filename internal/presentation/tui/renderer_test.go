package tui_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/internal/presentation/tui"
	"github.com/aretw0/jobctl/pkg/domain"
)

func TestRunSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	t.Run("Finished", func(t *testing.T) {
		md := tui.RunSummary(&domain.RunRecord{
			ID:         "r1",
			JobName:    "board-a",
			Processor:  domain.ProcessorPickAndPlace,
			Workflow:   domain.WorkflowPlacement,
			Outcome:    domain.OutcomeFinished,
			Operations: 4,
			Completed:  3,
			Skipped:    1,
			Failures:   2,
			LastError:  "feeder empty",
			StartedAt:  start,
			EndedAt:    &end,
		})
		assert.Contains(t, md, "## Run board-a")
		assert.Contains(t, md, "| Outcome | finished |")
		assert.Contains(t, md, "3 completed, 1 skipped of 4")
		assert.Contains(t, md, "| Duration | 1.5s |")
		assert.Contains(t, md, "> Last error: feeder empty")
	})

	t.Run("Active", func(t *testing.T) {
		md := tui.RunSummary(&domain.RunRecord{ID: "r2", State: domain.StateStepping, StartedAt: start})
		assert.Contains(t, md, "## Run r2")
		assert.Contains(t, md, "in progress (stepping)")
		assert.NotContains(t, md, "Duration")
	})
}

func TestRenderer(t *testing.T) {
	render := tui.NewRenderer()
	out, err := render("# Hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf)
	assert.Contains(t, buf.String(), "|___/")
	assert.Contains(t, tui.StateLabel(domain.StateRunning), "running")
}
