package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/infra/storage"
)

type jobRow struct {
	ID           string       `db:"id"`
	RunID        string       `db:"run_id"`
	Status       string       `db:"status"`
	Prompt       string       `db:"prompt"`
	AspectRatio  string       `db:"aspect_ratio"`
	Attempts     int          `db:"attempts"`
	ElapsedMS    int64        `db:"elapsed_ms"`
	ImageURL     string       `db:"image_url"`
	Seed         string       `db:"seed"`
	FailureClass string       `db:"failure_class"`
	Detail       string       `db:"detail"`
	SubmittedAt  sql.NullTime `db:"submitted_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
}

const jobColumns = `id, run_id, status, prompt, aspect_ratio, attempts, elapsed_ms,
	image_url, seed, failure_class, detail, submitted_at, finished_at`

const upsertJobSQL = `
INSERT INTO jobs (` + jobColumns + `)
VALUES (:id, :run_id, :status, :prompt, :aspect_ratio, :attempts, :elapsed_ms,
	:image_url, :seed, :failure_class, :detail, :submitted_at, :finished_at)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	attempts = EXCLUDED.attempts,
	elapsed_ms = EXCLUDED.elapsed_ms,
	image_url = EXCLUDED.image_url,
	seed = EXCLUDED.seed,
	failure_class = EXCLUDED.failure_class,
	detail = EXCLUDED.detail,
	finished_at = EXCLUDED.finished_at`

func toJobRow(j *domain.JobRecord) jobRow {
	return jobRow{
		ID:           j.ID,
		RunID:        j.RunID,
		Status:       string(j.Status),
		Prompt:       j.Prompt,
		AspectRatio:  j.AspectRatio,
		Attempts:     j.Attempts,
		ElapsedMS:    j.Elapsed.Milliseconds(),
		ImageURL:     j.ImageURL,
		Seed:         j.Seed,
		FailureClass: j.FailureClass,
		Detail:       j.Detail,
		SubmittedAt:  nullTime(j.SubmittedAt),
		FinishedAt:   nullTime(j.FinishedAt),
	}
}

func (row jobRow) record() *domain.JobRecord {
	return &domain.JobRecord{
		ID:           row.ID,
		RunID:        row.RunID,
		Status:       domain.JobStatus(row.Status),
		Prompt:       row.Prompt,
		AspectRatio:  row.AspectRatio,
		Attempts:     row.Attempts,
		Elapsed:      time.Duration(row.ElapsedMS) * time.Millisecond,
		ImageURL:     row.ImageURL,
		Seed:         row.Seed,
		FailureClass: row.FailureClass,
		Detail:       row.Detail,
		SubmittedAt:  row.SubmittedAt.Time,
		FinishedAt:   row.FinishedAt.Time,
	}
}

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Save(ctx context.Context, job *domain.JobRecord) error {
	if _, err := r.db.NamedExecContext(ctx, upsertJobSQL, toJobRow(job)); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.record(), nil
}

func (r *JobRepo) ListByRun(ctx context.Context, runID string) ([]*domain.JobRecord, error) {
	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM jobs WHERE run_id = $1 ORDER BY submitted_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*domain.JobRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

func (r *JobRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE submitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
