package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/artline/internal/core/backoff"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
	"github.com/vietddude/artline/internal/events"
)

// =============================================================================
// Mocks
// =============================================================================

type pollStep struct {
	report *domain.TaskReport
	err    error
}

type mockRemote struct {
	mu          sync.Mutex
	createErrs  []error
	taskID      string
	steps       []pollStep
	createCalls int
	pollCalls   int
	onPoll      func(n int)
}

func (m *mockRemote) CreateTask(ctx context.Context, req domain.GenerationRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return m.taskID, nil
}

func (m *mockRemote) TaskStatus(ctx context.Context, taskID string) (*domain.TaskReport, error) {
	m.mu.Lock()
	m.pollCalls++
	n := m.pollCalls
	var step pollStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		if len(m.steps) > 1 {
			m.steps = m.steps[1:]
		}
	}
	hook := m.onPoll
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return step.report, step.err
}

func running() pollStep {
	return pollStep{report: &domain.TaskReport{State: domain.TaskStateRunning, RawStatus: "processing"}}
}

func done(urls ...string) pollStep {
	return pollStep{report: &domain.TaskReport{
		State:     domain.TaskStateCompleted,
		RawStatus: "completed",
		ImageURLs: urls,
		Seed:      "42",
	}}
}

// fakeClock advances only when the fake sleeper runs.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleeper(clock *fakeClock) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		s.delays = append(s.delays, d)
		s.mu.Unlock()
		clock.Advance(d)
		return nil
	}
}

func testConfig() Config {
	return Config{
		SubmitAttempts:  3,
		SubmitBackoff:   backoff.Config{InitialDelay: time.Second, GrowthFactor: 2, MaxDelay: 4 * time.Second},
		PollBackoff:     backoff.Config{InitialDelay: 2 * time.Second, GrowthFactor: 2, MaxDelay: 10 * time.Second},
		MaxPollAttempts: 10,
		MaxWait:         10 * time.Minute,
		SlowAttempts:    3,
		SlowAfter:       2 * time.Minute,
	}
}

func newTestClient(t *testing.T, remote Remote, cfg Config) (*Client, *events.Recorder, *fakeClock, *sleepLog) {
	t.Helper()
	rec := events.NewRecorder()
	clock := newFakeClock()
	sl := &sleepLog{}
	c, err := NewClient(remote, cfg,
		WithSink(rec),
		WithClock(clock),
		WithSleeper(sl.sleeper(clock)),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, rec, clock, sl
}

// =============================================================================
// Submit
// =============================================================================

func TestSubmit_ReturnsSubmittedJob(t *testing.T) {
	remote := &mockRemote{taskID: "task-1"}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	job, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "a calm desert", AspectRatio: "4:5"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID() != "task-1" {
		t.Errorf("ID = %q, want task-1", job.ID())
	}
	if job.Status() != domain.JobStatusSubmitted {
		t.Errorf("Status = %s, want submitted", job.Status())
	}
	if rec.Count(events.JobSubmitted) != 1 {
		t.Errorf("expected job.submitted event, got %v", rec.Names())
	}
}

func TestSubmit_RetriesTransientThenSucceeds(t *testing.T) {
	remote := &mockRemote{
		taskID:     "task-2",
		createErrs: []error{&failure.StatusError{StatusCode: 502}, nil},
	}
	c, rec, _, sl := newTestClient(t, remote, testConfig())

	job, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID() != "task-2" || remote.createCalls != 2 {
		t.Fatalf("unexpected job %q after %d calls", job.ID(), remote.createCalls)
	}
	if len(sl.delays) != 1 || sl.delays[0] != time.Second {
		t.Errorf("expected one 1s sleep, got %v", sl.delays)
	}
	if rec.Count(events.JobSubmitRetry) != 1 {
		t.Errorf("expected a retry event, got %v", rec.Names())
	}
}

func TestSubmit_AuthFailsImmediately(t *testing.T) {
	remote := &mockRemote{createErrs: []error{&failure.StatusError{StatusCode: 401}}}
	c, rec, _, sl := newTestClient(t, remote, testConfig())

	_, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Classification.Class != failure.ClassAuth {
		t.Errorf("class = %s, want auth_failure", subErr.Classification.Class)
	}
	if remote.createCalls != 1 || len(sl.delays) != 0 {
		t.Errorf("auth failure must not be retried: calls=%d sleeps=%v", remote.createCalls, sl.delays)
	}
	if rec.Count(events.JobSubmitFailed) != 1 {
		t.Errorf("expected submit_failed event, got %v", rec.Names())
	}
}

func TestSubmit_ExhaustsAttempts(t *testing.T) {
	boom := &failure.StatusError{StatusCode: 503}
	remote := &mockRemote{createErrs: []error{boom, boom, boom, boom}}
	c, _, _, _ := newTestClient(t, remote, testConfig())

	_, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Attempts != 3 || remote.createCalls != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", subErr.Attempts, remote.createCalls)
	}
	if subErr.Classification.Class != failure.ClassTransientServer {
		t.Errorf("class = %s", subErr.Classification.Class)
	}
}

func TestSubmit_EmptyTaskIDIsMalformed(t *testing.T) {
	remote := &mockRemote{taskID: "  "}
	c, _, _, _ := newTestClient(t, remote, testConfig())

	_, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.Classification.Class != failure.ClassMalformed {
		t.Fatalf("expected malformed SubmissionError, got %v", err)
	}
}

// =============================================================================
// AwaitCompletion
// =============================================================================

func TestAwait_CompletesAfterPending(t *testing.T) {
	remote := &mockRemote{
		taskID: "task-3",
		steps:  []pollStep{running(), running(), running(), done("", "https://cdn/a.png", "https://cdn/b.png")},
	}
	c, rec, _, sl := newTestClient(t, remote, testConfig())

	job, result, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "dunes", AspectRatio: "4:5"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", result.Attempts)
	}
	if result.ImageURL != "https://cdn/a.png" || len(result.ImageURLs) != 2 {
		t.Errorf("unexpected urls: %q %v", result.ImageURL, result.ImageURLs)
	}
	if result.Seed != "42" || result.PromptUsed != "dunes" {
		t.Errorf("unexpected seed/prompt: %q %q", result.Seed, result.PromptUsed)
	}
	if !result.Slow {
		t.Errorf("4 attempts should be tagged slow")
	}
	if job.Status() != domain.JobStatusCompleted || job.Result() == nil {
		t.Errorf("job not completed: %s", job.Status())
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sl.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sl.delays, want)
	}
	for i := range want {
		if sl.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sl.delays[i], want[i])
		}
	}
	if result.Elapsed != 14*time.Second {
		t.Errorf("elapsed = %v, want 14s", result.Elapsed)
	}

	if rec.Count(events.JobPollPending) != 3 || rec.Count(events.JobCompleted) != 1 || rec.Count(events.JobSlow) != 1 {
		t.Errorf("unexpected events: %v", rec.Names())
	}
}

func TestAwait_FastCompletionNotSlow(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{done("https://cdn/a.png")}}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	_, result, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Slow || rec.Count(events.JobSlow) != 0 {
		t.Errorf("single-poll completion must not be slow")
	}
}

func TestAwait_AttemptCeiling(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{running()}}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	job, err := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = c.AwaitCompletion(context.Background(), job, Budget{MaxAttempts: 3})

	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Kind != PollTimeout || pollErr.Classification.Class != failure.ClassTimeout {
		t.Errorf("kind=%s class=%s", pollErr.Kind, pollErr.Classification.Class)
	}
	if pollErr.Attempts != 3 || remote.pollCalls != 3 {
		t.Errorf("attempts=%d polls=%d, want 3", pollErr.Attempts, remote.pollCalls)
	}
	if job.Status() != domain.JobStatusTimedOut {
		t.Errorf("status = %s", job.Status())
	}
	if rec.Count(events.JobTimedOut) != 1 {
		t.Errorf("expected timed_out event: %v", rec.Names())
	}
}

func TestAwait_WallClockCeilingNeverOversleeps(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{running()}}
	cfg := testConfig()
	cfg.PollBackoff = backoff.Config{InitialDelay: 2 * time.Second, GrowthFactor: 1, MaxDelay: 2 * time.Second}
	c, _, clock, sl := newTestClient(t, remote, cfg)

	job, _ := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	start := clock.Now()
	_, err := c.AwaitCompletion(context.Background(), job, Budget{MaxAttempts: 100, MaxWait: time.Second})

	var pollErr *PollError
	if !errors.As(err, &pollErr) || pollErr.Kind != PollTimeout {
		t.Fatalf("expected timeout PollError, got %v", err)
	}
	if waited := clock.Since(start); waited > time.Second {
		t.Errorf("slept past the wall-clock ceiling: %v", waited)
	}
	for _, d := range sl.delays {
		if d > time.Second {
			t.Errorf("sleep %v exceeds remaining budget", d)
		}
	}
}

func TestAwait_TransientErrorsExhaustBudget(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{{err: &failure.StatusError{StatusCode: 500}}}}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	job, _ := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	_, err := c.AwaitCompletion(context.Background(), job, Budget{MaxAttempts: 4})

	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Kind != PollTransientExhausted || pollErr.Classification.Class != failure.ClassTimeout {
		t.Errorf("kind=%s class=%s", pollErr.Kind, pollErr.Classification.Class)
	}
	if rec.Count(events.JobPollError) != 4 {
		t.Errorf("expected 4 poll errors, got %v", rec.Names())
	}
}

func TestAwait_AuthErrorStopsImmediately(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{{err: &failure.StatusError{StatusCode: 403}}}}
	c, _, _, sl := newTestClient(t, remote, testConfig())

	job, _ := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	_, err := c.AwaitCompletion(context.Background(), job, Budget{})

	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Kind != PollRemoteFailure || pollErr.Classification.Class != failure.ClassAuth {
		t.Errorf("kind=%s class=%s", pollErr.Kind, pollErr.Classification.Class)
	}
	if remote.pollCalls != 1 || len(sl.delays) != 0 {
		t.Errorf("non-retryable error must stop at once: polls=%d sleeps=%v", remote.pollCalls, sl.delays)
	}
	if job.Status() != domain.JobStatusFailed {
		t.Errorf("status = %s", job.Status())
	}
}

func TestAwait_RemoteFailedStatus(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{
		running(),
		{report: &domain.TaskReport{State: domain.TaskStateFailed, RawStatus: "failed", Message: "content policy"}},
	}}
	c, _, _, _ := newTestClient(t, remote, testConfig())

	job, _ := c.Submit(context.Background(), domain.GenerationRequest{Prompt: "x"})
	_, err := c.AwaitCompletion(context.Background(), job, Budget{})

	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Classification.Class != failure.ClassJobFailed || pollErr.Attempts != 2 {
		t.Errorf("class=%s attempts=%d", pollErr.Classification.Class, pollErr.Attempts)
	}
	rec := job.Record("run-1")
	if rec.FailureClass != string(failure.ClassJobFailed) || rec.RunID != "run-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAwait_CompletedWithoutImagesIsMalformed(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{done("", "  ")}}
	c, _, _, _ := newTestClient(t, remote, testConfig())

	_, _, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var pollErr *PollError
	if !errors.As(err, &pollErr) || pollErr.Classification.Class != failure.ClassMalformed {
		t.Fatalf("expected malformed PollError, got %v", err)
	}
}

func TestAwait_CancellationIsDistinct(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := &mockRemote{taskID: "t", steps: []pollStep{running()}}
	remote.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	job, err := c.Submit(ctx, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = c.AwaitCompletion(ctx, job, Budget{})

	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Kind != PollCancelled || pollErr.Classification.Class != failure.ClassCancelled {
		t.Errorf("kind=%s class=%s", pollErr.Kind, pollErr.Classification.Class)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected errors.Is(err, context.Canceled)")
	}
	if job.Status() != domain.JobStatusCancelled {
		t.Errorf("status = %s", job.Status())
	}
	if rec.Count(events.JobTimedOut) != 0 || rec.Count(events.JobCancelled) != 1 {
		t.Errorf("cancellation must not look like a timeout: %v", rec.Names())
	}
}

func TestAwait_HonoursRetryAfter(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{
		{err: &failure.StatusError{StatusCode: 429, RetryAfter: 7 * time.Second}},
		done("https://cdn/a.png"),
	}}
	c, _, _, sl := newTestClient(t, remote, testConfig())

	if _, _, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sl.delays) != 1 || sl.delays[0] != 7*time.Second {
		t.Errorf("expected a 7s Retry-After sleep, got %v", sl.delays)
	}
}

func TestAwait_RejectsJobNotInSubmittedState(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{done("https://cdn/a.png")}}
	c, _, _, _ := newTestClient(t, remote, testConfig())

	job, _, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := c.AwaitCompletion(context.Background(), job, Budget{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAwait_IndependentJobsShareSink(t *testing.T) {
	rec := events.NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remote := &mockRemote{taskID: "t", steps: []pollStep{running(), done("https://cdn/a.png")}}
			clock := newFakeClock()
			sl := &sleepLog{}
			c, err := NewClient(remote, testConfig(), WithSink(rec), WithClock(clock), WithSleeper(sl.sleeper(clock)))
			if err != nil {
				t.Errorf("NewClient: %v", err)
				return
			}
			if _, _, err := c.Run(context.Background(), domain.GenerationRequest{Prompt: "x"}); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()
	if rec.Count(events.JobCompleted) != 8 {
		t.Fatalf("expected 8 completions, got %d", rec.Count(events.JobCompleted))
	}
}

func TestNewClient_RejectsBadBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.PollBackoff.GrowthFactor = 0.5
	if _, err := NewClient(&mockRemote{}, cfg); !errors.Is(err, backoff.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestEventsCarryRunID(t *testing.T) {
	remote := &mockRemote{taskID: "t", steps: []pollStep{done("https://cdn/a.png")}}
	c, rec, _, _ := newTestClient(t, remote, testConfig())

	ctx := events.WithRunID(context.Background(), "run-42")
	if _, _, err := c.Run(ctx, domain.GenerationRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, e := range rec.Events() {
		if e.RunID != "run-42" {
			t.Errorf("%s missing run id", e.Name)
		}
	}
}
