package jobs

import (
	"fmt"
	"time"

	"github.com/vietddude/artline/internal/core/failure"
)

// SubmissionError means the job never got an identifier from the remote service.
type SubmissionError struct {
	Classification failure.Classification
	Attempts       int
	Err            error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit job: %s after %d attempt(s): %v", e.Classification.Class, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollFailureKind distinguishes the ways a poll loop can end without a result.
type PollFailureKind string

const (
	// PollTimeout means a budget ran out while the remote kept reporting progress.
	PollTimeout PollFailureKind = "timeout"
	// PollTransientExhausted means a budget ran out while polls kept failing transiently.
	PollTransientExhausted PollFailureKind = "transient_exhausted"
	// PollRemoteFailure means the remote reported failure or a poll hit a non-retryable error.
	PollRemoteFailure PollFailureKind = "remote_failure"
	// PollCancelled means the caller cancelled the wait.
	PollCancelled PollFailureKind = "cancelled"
)

// PollError means a submitted job did not reach a usable result.
type PollError struct {
	JobID          string
	Kind           PollFailureKind
	Classification failure.Classification
	Attempts       int
	Elapsed        time.Duration
	Err            error
}

func (e *PollError) Error() string {
	msg := fmt.Sprintf("job %s: %s (%s) after %d attempt(s) in %s",
		e.JobID, e.Kind, e.Classification.Class, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PollError) Unwrap() error { return e.Err }
