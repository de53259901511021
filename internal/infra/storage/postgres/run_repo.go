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

type runRow struct {
	ID            string       `db:"id"`
	Input         string       `db:"input"`
	Status        string       `db:"status"`
	Stage         string       `db:"stage"`
	ErrorType     string       `db:"error_type"`
	ErrorDetail   string       `db:"error_detail"`
	Regenerations int          `db:"regenerations"`
	JobID         string       `db:"job_id"`
	ImageURL      string       `db:"image_url"`
	ViewURL       string       `db:"view_url"`
	DownloadURL   string       `db:"download_url"`
	StartedAt     sql.NullTime `db:"started_at"`
	FinishedAt    sql.NullTime `db:"finished_at"`
}

const runColumns = `id, input, status, stage, error_type, error_detail, regenerations,
	job_id, image_url, view_url, download_url, started_at, finished_at`

const upsertRunSQL = `
INSERT INTO runs (` + runColumns + `)
VALUES (:id, :input, :status, :stage, :error_type, :error_detail, :regenerations,
	:job_id, :image_url, :view_url, :download_url, :started_at, :finished_at)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	stage = EXCLUDED.stage,
	error_type = EXCLUDED.error_type,
	error_detail = EXCLUDED.error_detail,
	regenerations = EXCLUDED.regenerations,
	job_id = EXCLUDED.job_id,
	image_url = EXCLUDED.image_url,
	view_url = EXCLUDED.view_url,
	download_url = EXCLUDED.download_url,
	finished_at = EXCLUDED.finished_at`

func toRunRow(r *domain.RunRecord) runRow {
	return runRow{
		ID:            r.ID,
		Input:         r.Input,
		Status:        string(r.Status),
		Stage:         string(r.Stage),
		ErrorType:     r.ErrorType,
		ErrorDetail:   r.ErrorDetail,
		Regenerations: r.Regenerations,
		JobID:         r.JobID,
		ImageURL:      r.ImageURL,
		ViewURL:       r.ViewURL,
		DownloadURL:   r.DownloadURL,
		StartedAt:     nullTime(r.StartedAt),
		FinishedAt:    nullTime(r.FinishedAt),
	}
}

func (row runRow) record() *domain.RunRecord {
	return &domain.RunRecord{
		ID:            row.ID,
		Input:         row.Input,
		Status:        domain.RunStatus(row.Status),
		Stage:         domain.Role(row.Stage),
		ErrorType:     row.ErrorType,
		ErrorDetail:   row.ErrorDetail,
		Regenerations: row.Regenerations,
		JobID:         row.JobID,
		ImageURL:      row.ImageURL,
		ViewURL:       row.ViewURL,
		DownloadURL:   row.DownloadURL,
		StartedAt:     row.StartedAt.Time,
		FinishedAt:    row.FinishedAt.Time,
	}
}

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Save upserts a run.
func (r *RunRepo) Save(ctx context.Context, run *domain.RunRecord) error {
	if _, err := r.db.NamedExecContext(ctx, upsertRunSQL, toRunRow(run)); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return row.record(), nil
}

// List returns the most recent runs.
func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*domain.RunRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

// DeleteOlderThan removes runs started before cutoff.
func (r *RunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
