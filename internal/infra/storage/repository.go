package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
)

var (
	// ErrNotFound is returned when a run or job doesn't exist
	ErrNotFound = errors.New("record not found")
)

// RunRepository keeps the ledger of pipeline runs
type RunRepository interface {
	// Save inserts or replaces a run
	Save(ctx context.Context, run *domain.RunRecord) error

	// Get retrieves a run by id
	Get(ctx context.Context, id string) (*domain.RunRecord, error)

	// List returns the most recent runs, newest first
	List(ctx context.Context, limit int) ([]*domain.RunRecord, error)

	// DeleteOlderThan removes runs started before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// JobRepository keeps terminal job records
type JobRepository interface {
	// Save inserts or replaces a job
	Save(ctx context.Context, job *domain.JobRecord) error

	// Get retrieves a job by remote task id
	Get(ctx context.Context, id string) (*domain.JobRecord, error)

	// ListByRun returns the jobs submitted for a run in submission order
	ListByRun(ctx context.Context, runID string) ([]*domain.JobRecord, error)

	// DeleteOlderThan removes jobs submitted before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Health(ctx context.Context) error
}

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 20
