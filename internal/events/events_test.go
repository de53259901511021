package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vietddude/artline/internal/metrics"
)

// =============================================================================
// Mocks
// =============================================================================

type mockWriter struct {
	mu      sync.Mutex
	entries []map[string]any
	err     error
}

func (m *mockWriter) Append(_ context.Context, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, values)
	return nil
}

// =============================================================================
// Tests
// =============================================================================

func TestRecorder_ConcurrentEmit(t *testing.T) {
	rec := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec.Emit(context.Background(), Event{Name: JobPollPending, Attempt: n})
		}(i)
	}
	wg.Wait()

	if got := rec.Count(JobPollPending); got != 50 {
		t.Fatalf("expected 50 events, got %d", got)
	}
}

func TestFanout_DeliversToAll(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	sink := Fanout{a, nil, b}
	sink.Emit(context.Background(), Event{Name: JobSubmitted, JobID: "t-1"})

	if a.Count(JobSubmitted) != 1 || b.Count(JobSubmitted) != 1 {
		t.Fatalf("expected both recorders to receive the event: a=%v b=%v", a.Names(), b.Names())
	}
}

func TestLogSink_WritesLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(log)

	sink.Emit(context.Background(), Event{
		Name:    JobSlow,
		Level:   LevelWarn,
		JobID:   "task-9",
		Attempt: 4,
		Fields:  map[string]any{"reason": "attempts"},
	})

	out := buf.String()
	for _, want := range []string{"level=WARN", "msg=job.slow", "job_id=task-9", "attempt=4", "reason=attempts"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestMetricsSink_CountsOutcomes(t *testing.T) {
	sink := NewMetricsSink()

	before := testutil.ToFloat64(metrics.JobOutcomes.WithLabelValues("timed_out"))
	sink.Emit(context.Background(), Event{Name: JobTimedOut, Attempt: 3, Elapsed: time.Minute})
	after := testutil.ToFloat64(metrics.JobOutcomes.WithLabelValues("timed_out"))
	if after-before != 1 {
		t.Fatalf("expected timed_out counter to grow by 1, got %v", after-before)
	}

	rejBefore := testutil.ToFloat64(metrics.ContractViolations.WithLabelValues("brief_agent", "art_direction_agent", "schema_mismatch"))
	sink.Emit(context.Background(), Event{
		Name:   HandoffRejected,
		Fields: map[string]any{"from": "brief_agent", "to": "art_direction_agent", "code": "schema_mismatch"},
	})
	rejAfter := testutil.ToFloat64(metrics.ContractViolations.WithLabelValues("brief_agent", "art_direction_agent", "schema_mismatch"))
	if rejAfter-rejBefore != 1 {
		t.Fatalf("expected violation counter to grow by 1, got %v", rejAfter-rejBefore)
	}
}

func TestStreamSink_FlattensEvent(t *testing.T) {
	w := &mockWriter{}
	sink := NewStreamSink(w, nil)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.Emit(context.Background(), Event{
		Name:    JobCompleted,
		Level:   LevelInfo,
		JobID:   "task-1",
		Attempt: 2,
		Elapsed: 1500 * time.Millisecond,
		At:      at,
		Fields:  map[string]any{"image_url": "https://cdn/x.png", "name": "shadowed"},
	})

	if len(w.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(w.entries))
	}
	entry := w.entries[0]
	if entry["name"] != JobCompleted {
		t.Errorf("field overwrote event name: %v", entry["name"])
	}
	if entry["attempt"] != "2" || entry["elapsed_ms"] != "1500" {
		t.Errorf("unexpected attempt/elapsed: %v %v", entry["attempt"], entry["elapsed_ms"])
	}
	if entry["at"] != "2025-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp: %v", entry["at"])
	}
	if entry["image_url"] != "https://cdn/x.png" {
		t.Errorf("missing custom field: %v", entry)
	}
}

func TestStreamSink_SwallowsWriteErrors(t *testing.T) {
	w := &mockWriter{err: errors.New("redis down")}
	sink := NewStreamSink(w, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	// Must not panic or block.
	sink.Emit(context.Background(), Event{Name: JobFailed})
}
