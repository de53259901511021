package jobs

import (
	"errors"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
)

// Status is an alias for domain.JobStatus for internal use.
type Status = domain.JobStatus

// ErrInvalidTransition is returned when a job is moved along an edge the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[Status][]Status{
	domain.JobStatusSubmitted: {domain.JobStatusPolling, domain.JobStatusCancelled},
	domain.JobStatusPolling: {
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusTimedOut,
		domain.JobStatusCancelled,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to Status) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition records a state change.
type Transition struct {
	From    Status
	To      Status
	Reason  string
	At      time.Time
	Attempt int
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s Status) string {
	switch s {
	case domain.JobStatusSubmitted:
		return "Submitted - accepted by the remote service, not yet polled"
	case domain.JobStatusPolling:
		return "Polling - waiting for the remote service to finish"
	case domain.JobStatusCompleted:
		return "Completed - result available"
	case domain.JobStatusFailed:
		return "Failed - the remote service or a non-retryable error ended the job"
	case domain.JobStatusTimedOut:
		return "Timed out - attempt or wall-clock budget exhausted"
	case domain.JobStatusCancelled:
		return "Cancelled - the caller gave up"
	default:
		return "Unknown state"
	}
}
