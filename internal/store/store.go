// Package store persists pick runs and their selected labels.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/alpenmeteo/townpick/internal/model"
)

// ErrNotFound is returned when no run matches the requested id.
var ErrNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for pick runs.
type Store interface {
	// SaveRun records a finished run together with its labels.
	SaveRun(ctx context.Context, run *model.Run) error

	// GetRun returns one run with its labels, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// LatestRun returns the most recently started run with its labels,
	// or ErrNotFound when the store is empty.
	LatestRun(ctx context.Context) (*model.Run, error)

	// ListRuns returns run summaries, newest first. Labels are not loaded.
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Labels returns the labels of one run in rank order.
	Labels(ctx context.Context, runID string) ([]model.SelectedTown, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
