package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/artline/internal/infra/storage"
)

// Pruner deletes run and job records older than the retention period.
type Pruner struct {
	retention time.Duration
	runRepo   storage.RunRepository
	jobRepo   storage.JobRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(
	retention time.Duration,
	runRepo storage.RunRepository,
	jobRepo storage.JobRepository,
	log *slog.Logger,
) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		retention: retention,
		runRepo:   runRepo,
		jobRepo:   jobRepo,
		now:       time.Now,
		log:       log,
	}
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns how many runs and jobs were removed.
func (p *Pruner) Prune(ctx context.Context) (runs, jobs int) {
	cutoff := p.now().Add(-p.retention)

	runs, err := p.runRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune runs", "cutoff", cutoff, "error", err)
	}

	jobs, err = p.jobRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune jobs", "cutoff", cutoff, "error", err)
	}

	if runs > 0 || jobs > 0 {
		p.log.Info("Pruned ledger", "runs", runs, "jobs", jobs, "cutoff", cutoff)
	}
	return runs, jobs
}
