package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogSink writes events through slog.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ctx context.Context, evt Event) {
	attrs := make([]any, 0, 8+2*len(evt.Fields))
	if evt.RunID != "" {
		attrs = append(attrs, "run_id", evt.RunID)
	}
	if evt.JobID != "" {
		attrs = append(attrs, "job_id", evt.JobID)
	}
	if evt.Attempt > 0 {
		attrs = append(attrs, "attempt", evt.Attempt)
	}
	if evt.Elapsed > 0 {
		attrs = append(attrs, "elapsed", evt.Elapsed.Round(time.Millisecond))
	}
	for k, v := range evt.Fields {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch evt.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	s.log.Log(ctx, level, evt.Name, attrs...)
}

// Fanout delivers every event to each sink in order.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, evt Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// Recorder keeps every event in memory. Used by tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
