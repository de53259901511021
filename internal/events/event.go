package events

import (
	"context"
	"time"
)

// Names of lifecycle events. Consumers switch on these.
const (
	JobSubmitted    = "job.submitted"
	JobSubmitRetry  = "job.submit_retry"
	JobSubmitFailed = "job.submit_failed"
	JobPolling      = "job.polling"
	JobPollPending  = "job.poll_pending"
	JobPollError    = "job.poll_error"
	JobCompleted    = "job.completed"
	JobSlow         = "job.slow"
	JobFailed       = "job.failed"
	JobTimedOut     = "job.timed_out"
	JobCancelled    = "job.cancelled"

	HandoffDelivered   = "handoff.delivered"
	HandoffUnvalidated = "handoff.unvalidated"
	HandoffRejected    = "handoff.rejected"

	RunStarted      = "run.started"
	RunRegenerating = "run.regenerating"
	RunDelivered    = "run.delivered"
	RunFailed       = "run.failed"
)

// Level is the severity attached to an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single structured observation emitted by the job client, the router
// or the pipeline runner.
type Event struct {
	Name    string
	Level   Level
	JobID   string
	RunID   string
	Attempt int
	Elapsed time.Duration
	At      time.Time
	Fields  map[string]any
}

// Field returns a named field or nil.
func (e Event) Field(key string) any {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// Sink receives events. Implementations must be safe for concurrent use since
// independent poll loops report into the same sink.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event)

func (f SinkFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

type runIDKey struct{}

// WithRunID tags ctx so that events emitted under it carry the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id stored by WithRunID, if any.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
