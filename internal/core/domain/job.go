package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a remote generation job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPolling   JobStatus = "polling"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	}
	return false
}

// GenerationRequest is what gets submitted to the remote image service.
type GenerationRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio"`
	Style          string `json:"style,omitempty"`
	Quality        string `json:"quality,omitempty"`
	NumImages      int    `json:"num_images,omitempty"`
}

// TaskState is the remote service's view of a job, reduced to what the poll loop needs.
type TaskState string

const (
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// TaskReport is one parsed status response.
type TaskReport struct {
	TaskID     string
	State      TaskState
	RawStatus  string
	ImageURLs  []string
	Seed       string
	PromptUsed string
	Message    string
	Raw        json.RawMessage
}

// JobResult is the terminal payload of a completed job.
type JobResult struct {
	TaskID      string        `json:"task_id"`
	ImageURL    string        `json:"image_url"`
	ImageURLs   []string      `json:"all_image_urls"`
	Seed        string        `json:"seed"`
	PromptUsed  string        `json:"prompt_used"`
	AspectRatio string        `json:"aspect_ratio"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
	Slow        bool          `json:"slow"`
}

// JobRecord is the persisted snapshot of a job at its terminal state.
type JobRecord struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	Status       JobStatus     `json:"status"`
	Prompt       string        `json:"prompt"`
	AspectRatio  string        `json:"aspect_ratio"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
	ImageURL     string        `json:"image_url"`
	Seed         string        `json:"seed"`
	FailureClass string        `json:"failure_class"`
	Detail       string        `json:"detail"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}
