package jobs

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
)

// Job is one remote generation job. Only the Client that submitted it moves it
// through its lifecycle; readers may inspect it concurrently.
type Job struct {
	id          string
	request     domain.GenerationRequest
	submittedAt time.Time

	mu          sync.RWMutex
	status      Status
	attempts    int
	elapsed     time.Duration
	lastPayload json.RawMessage
	result      *domain.JobResult
	failure     string
	failClass   string
	finishedAt  time.Time
	transitions []Transition
}

func newJob(id string, req domain.GenerationRequest, at time.Time) *Job {
	return &Job{
		id:          id,
		request:     req,
		submittedAt: at,
		status:      domain.JobStatusSubmitted,
	}
}

// ID returns the identifier assigned by the remote service.
func (j *Job) ID() string { return j.id }

// Request returns what was submitted.
func (j *Job) Request() domain.GenerationRequest { return j.request }

// SubmittedAt returns when the remote service accepted the job.
func (j *Job) SubmittedAt() time.Time { return j.submittedAt }

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) Attempts() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attempts
}

func (j *Job) Elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.elapsed
}

// LastPayload returns the last raw status response.
func (j *Job) LastPayload() json.RawMessage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastPayload
}

// Result is non-nil only once the job has completed.
func (j *Job) Result() *domain.JobResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Transitions returns the recorded state changes.
func (j *Job) Transitions() []Transition {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Transition, len(j.transitions))
	copy(out, j.transitions)
	return out
}

// Record returns a persistable snapshot.
func (j *Job) Record(runID string) *domain.JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec := &domain.JobRecord{
		ID:           j.id,
		RunID:        runID,
		Status:       j.status,
		Prompt:       j.request.Prompt,
		AspectRatio:  j.request.AspectRatio,
		Attempts:     j.attempts,
		Elapsed:      j.elapsed,
		FailureClass: j.failClass,
		Detail:       j.failure,
		SubmittedAt:  j.submittedAt,
		FinishedAt:   j.finishedAt,
	}
	if j.result != nil {
		rec.ImageURL = j.result.ImageURL
		rec.Seed = j.result.Seed
	}
	return rec
}

func (j *Job) transition(to Status, reason string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.transitions = append(j.transitions, Transition{
		From:    j.status,
		To:      to,
		Reason:  reason,
		At:      at,
		Attempt: j.attempts,
	})
	j.status = to
	if to.IsTerminal() {
		j.finishedAt = at
		if to != domain.JobStatusCompleted {
			j.failure = reason
		}
	}
	return nil
}

// beginAttempt increments and returns the attempt counter.
func (j *Job) beginAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

func (j *Job) observe(payload json.RawMessage, elapsed time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if payload != nil {
		j.lastPayload = payload
	}
	if elapsed > j.elapsed {
		j.elapsed = elapsed
	}
}

func (j *Job) fail(to Status, class, reason string, at time.Time) error {
	if err := j.transition(to, reason, at); err != nil {
		return err
	}
	j.mu.Lock()
	j.failClass = class
	j.mu.Unlock()
	return nil
}

func (j *Job) complete(result *domain.JobResult, at time.Time) error {
	if err := j.transition(domain.JobStatusCompleted, "remote reported completion", at); err != nil {
		return err
	}
	j.mu.Lock()
	j.result = result
	j.mu.Unlock()
	return nil
}
