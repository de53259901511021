package domain

import "time"

// RunStatus is the outcome of one pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDelivered RunStatus = "delivered"
	RunStatusError     RunStatus = "error"
)

// RunRecord is the ledger entry for a pipeline run.
type RunRecord struct {
	ID            string    `json:"id"`
	Input         string    `json:"input"`
	Status        RunStatus `json:"status"`
	Stage         Role      `json:"stage,omitempty"`
	ErrorType     string    `json:"error_type,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	Regenerations int       `json:"regenerations"`
	JobID         string    `json:"job_id,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	ViewURL       string    `json:"view_url,omitempty"`
	DownloadURL   string    `json:"download_url,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}
