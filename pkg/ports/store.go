package ports

import (
	"context"

	"github.com/aretw0/jobctl/pkg/domain"
)

// RunStore persists run records so runs stay observable after they end and across restarts.
type RunStore interface {
	// Save persists the record under its ID, replacing any previous version.
	Save(ctx context.Context, run *domain.RunRecord) error

	// Load retrieves a record.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.RunRecord, error)

	// Delete removes a record. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the IDs of all stored runs, most recently started first.
	List(ctx context.Context) ([]string, error)
}
