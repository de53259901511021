package events

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// StreamWriter appends flat records to an external event stream.
type StreamWriter interface {
	Append(ctx context.Context, values map[string]any) error
}

// StreamSink forwards events to a StreamWriter. Write failures are logged and
// dropped so that observability never blocks a job.
type StreamSink struct {
	writer  StreamWriter
	timeout time.Duration
	log     *slog.Logger
}

func NewStreamSink(writer StreamWriter, log *slog.Logger) *StreamSink {
	if log == nil {
		log = slog.Default()
	}
	return &StreamSink{writer: writer, timeout: 2 * time.Second, log: log}
}

func (s *StreamSink) Emit(ctx context.Context, evt Event) {
	values := Flatten(evt)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.writer.Append(writeCtx, values); err != nil {
		s.log.Warn("events.stream.append_failed", "event", evt.Name, "error", err)
	}
}

// Flatten converts an event into string-keyed values suitable for a stream entry.
func Flatten(evt Event) map[string]any {
	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	values := map[string]any{
		"name":  evt.Name,
		"level": string(evt.Level),
		"at":    at.UTC().Format(time.RFC3339Nano),
	}
	if evt.JobID != "" {
		values["job_id"] = evt.JobID
	}
	if evt.RunID != "" {
		values["run_id"] = evt.RunID
	}
	if evt.Attempt > 0 {
		values["attempt"] = strconv.Itoa(evt.Attempt)
	}
	if evt.Elapsed > 0 {
		values["elapsed_ms"] = strconv.FormatInt(evt.Elapsed.Milliseconds(), 10)
	}
	for k, v := range evt.Fields {
		if _, taken := values[k]; taken {
			continue
		}
		values[k] = v
	}
	return values
}
