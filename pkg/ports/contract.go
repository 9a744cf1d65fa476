package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a RunStore implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")

	newRun := func(id string, started time.Time) *domain.RunRecord {
		return &domain.RunRecord{
			ID:         id,
			MachineID:  "m1",
			JobName:    "board-a",
			Workflow:   domain.WorkflowPlacement,
			Processor:  domain.ProcessorPickAndPlace,
			State:      domain.StateRunning,
			Operations: 12,
			StartedAt:  started,
			UpdatedAt:  started,
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		run := newRun(runID, time.Now().UTC())
		run.Completed = 3
		run.LastError = "nozzle vacuum lost"

		err := store.Save(ctx, run)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, run.ID, loaded.ID)
		assert.Equal(t, domain.ProcessorPickAndPlace, loaded.Processor)
		assert.Equal(t, 3, loaded.Completed)
		assert.Equal(t, "nozzle vacuum lost", loaded.LastError)
		assert.True(t, loaded.Active())
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		run := newRun(runID, time.Now().UTC())
		ended := time.Now().UTC()
		run.EndedAt = &ended
		run.Outcome = domain.OutcomeFinished
		run.State = domain.StateStopped
		require.NoError(t, store.Save(ctx, run))

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFinished, loaded.Outcome)
		assert.False(t, loaded.Active())
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRun(runID, time.Now().UTC())))

		err := store.Delete(ctx, runID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "Deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		base := time.Now().UTC()
		_ = store.Save(ctx, newRun(id1, base))
		_ = store.Save(ctx, newRun(id2, base.Add(time.Second)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		require.Contains(t, runs, id1)
		require.Contains(t, runs, id2)

		pos := func(id string) int {
			for i, r := range runs {
				if r == id {
					return i
				}
			}
			return -1
		}
		assert.Less(t, pos(id2), pos(id1), "most recent run first")
	})
}
