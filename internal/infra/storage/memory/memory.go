package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/infra/storage"
)

// MemoryStorage holds runs and jobs for the lifetime of the process.
type MemoryStorage struct {
	runs map[string]*domain.RunRecord
	jobs map[string]*domain.JobRecord
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*domain.RunRecord),
		jobs: make(map[string]*domain.JobRecord),
	}
}

func (s *MemoryStorage) Health(ctx context.Context) error {
	return nil
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Save(ctx context.Context, run *domain.RunRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *run
	r.store.runs[run.ID] = &cp
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	r.store.mu.RLock()
	out := make([]*domain.RunRecord, 0, len(r.store.runs))
	for _, run := range r.store.runs {
		cp := *run
		out = append(out, &cp)
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.RunRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for id, run := range r.store.runs {
		if run.StartedAt.Before(cutoff) {
			delete(r.store.runs, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Save(ctx context.Context, job *domain.JobRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *job
	r.store.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	job, ok := r.store.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *JobRepo) ListByRun(ctx context.Context, runID string) ([]*domain.JobRecord, error) {
	r.store.mu.RLock()
	var out []*domain.JobRecord
	for _, job := range r.store.jobs {
		if job.RunID == runID {
			cp := *job
			out = append(out, &cp)
		}
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.JobRecord) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	return out, nil
}

func (r *JobRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for id, job := range r.store.jobs {
		if job.SubmittedAt.Before(cutoff) {
			delete(r.store.jobs, id)
			n++
		}
	}
	return n, nil
}
