package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/artline/internal/core/backoff"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
	"github.com/vietddude/artline/internal/events"
)

// Remote is the asynchronous image generation service.
type Remote interface {
	// CreateTask submits a job and returns its identifier.
	CreateTask(ctx context.Context, req domain.GenerationRequest) (string, error)
	// TaskStatus fetches the current state of a job.
	TaskStatus(ctx context.Context, taskID string) (*domain.TaskReport, error)
}

// Config bounds submission retries and polling.
type Config struct {
	SubmitAttempts  int            `yaml:"submit_attempts"`
	SubmitBackoff   backoff.Config `yaml:"submit_backoff"`
	PollBackoff     backoff.Config `yaml:"poll_backoff"`
	MaxPollAttempts int            `yaml:"max_poll_attempts"`
	MaxWait         time.Duration  `yaml:"max_wait"`
	SlowAttempts    int            `yaml:"slow_attempts"`
	SlowAfter       time.Duration  `yaml:"slow_after"`
}

// DefaultConfig polls every 5s growing by 1.8x up to 30s, for at most 60 polls or
// 10 minutes. Submission gets 3 attempts starting 2s apart.
func DefaultConfig() Config {
	return Config{
		SubmitAttempts: 3,
		SubmitBackoff: backoff.Config{
			InitialDelay:   2 * time.Second,
			GrowthFactor:   2,
			MaxDelay:       10 * time.Second,
			JitterFraction: 0.1,
		},
		PollBackoff: backoff.Config{
			InitialDelay:   5 * time.Second,
			GrowthFactor:   1.8,
			MaxDelay:       30 * time.Second,
			JitterFraction: 0.1,
		},
		MaxPollAttempts: 60,
		MaxWait:         10 * time.Minute,
		SlowAttempts:    3,
		SlowAfter:       2 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.SubmitBackoff == (backoff.Config{}) {
		c.SubmitBackoff = d.SubmitBackoff
	}
	if c.PollBackoff == (backoff.Config{}) {
		c.PollBackoff = d.PollBackoff
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = d.MaxPollAttempts
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.SlowAttempts <= 0 {
		c.SlowAttempts = d.SlowAttempts
	}
	if c.SlowAfter <= 0 {
		c.SlowAfter = d.SlowAfter
	}
	return c
}

// Budget caps a single AwaitCompletion call. Whichever ceiling is hit first ends
// the wait. Zero fields fall back to the client's configuration.
type Budget struct {
	MaxAttempts int
	MaxWait     time.Duration
}

// Clock abstracts time so the poll loop can be driven deterministically.
// Since must use the monotonic clock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client submits jobs to a Remote and drives them to a terminal state.
type Client struct {
	remote       Remote
	cfg          Config
	submitPolicy *backoff.Policy
	pollPolicy   *backoff.Policy
	sink         events.Sink
	log          *slog.Logger
	clock        Clock
	sleep        Sleeper
	random       func() float64
}

// Option configures a Client.
type Option func(*Client)

// WithSink sets where lifecycle events are reported.
func WithSink(sink events.Sink) Option {
	return func(c *Client) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithJitterSource replaces the random source used for backoff jitter.
func WithJitterSource(fn func() float64) Option {
	return func(c *Client) {
		c.random = fn
	}
}

// NewClient builds a client. Zero config fields take defaults; invalid backoff
// parameters are rejected.
func NewClient(remote Remote, cfg Config, opts ...Option) (*Client, error) {
	if remote == nil {
		return nil, errors.New("jobs: remote is required")
	}
	c := &Client{
		remote: remote,
		cfg:    cfg.WithDefaults(),
		sink:   events.Nop,
		log:    slog.Default(),
		clock:  systemClock{},
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.submitPolicy, err = backoff.NewPolicy(c.cfg.SubmitBackoff, backoff.WithRandom(c.random)); err != nil {
		return nil, fmt.Errorf("submit backoff: %w", err)
	}
	if c.pollPolicy, err = backoff.NewPolicy(c.cfg.PollBackoff, backoff.WithRandom(c.random)); err != nil {
		return nil, fmt.Errorf("poll backoff: %w", err)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// DefaultBudget returns the budget used when AwaitCompletion gets a zero Budget.
func (c *Client) DefaultBudget() Budget {
	return Budget{MaxAttempts: c.cfg.MaxPollAttempts, MaxWait: c.cfg.MaxWait}
}

// Run submits req and waits for it with the default budget.
func (c *Client) Run(ctx context.Context, req domain.GenerationRequest) (*Job, *domain.JobResult, error) {
	job, err := c.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	result, err := c.AwaitCompletion(ctx, job, Budget{})
	return job, result, err
}

// Submit creates a remote job, retrying transient failures within SubmitAttempts.
// Failure is always a *SubmissionError.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (*Job, error) {
	var (
		lastErr  error
		cls      failure.Classification
		attempts int
	)

	for attempts < c.cfg.SubmitAttempts {
		if err := ctx.Err(); err != nil {
			lastErr, cls = err, failure.Classify(err)
			break
		}
		attempts++

		id, err := c.remote.CreateTask(ctx, req)
		if err == nil && strings.TrimSpace(id) == "" {
			err = &failure.MalformedError{Detail: "create task returned an empty task id"}
		}
		if err == nil {
			now := c.clock.Now()
			job := newJob(id, req, now)
			c.emit(ctx, events.Event{
				Name:    events.JobSubmitted,
				Level:   events.LevelInfo,
				JobID:   id,
				Attempt: attempts,
				At:      now,
				Fields:  map[string]any{"aspect_ratio": req.AspectRatio},
			})
			return job, nil
		}

		lastErr, cls = err, failure.Classify(err)
		if !cls.Retryable || attempts >= c.cfg.SubmitAttempts {
			break
		}

		delay := c.retryDelay(c.submitPolicy, attempts, &cls)
		c.emit(ctx, events.Event{
			Name:    events.JobSubmitRetry,
			Level:   events.LevelWarn,
			Attempt: attempts,
			At:      c.clock.Now(),
			Fields:  map[string]any{"class": string(cls.Class), "delay": delay.String(), "error": err.Error()},
		})
		if err := c.sleep(ctx, delay); err != nil {
			lastErr, cls = err, failure.Classify(err)
			break
		}
	}

	c.emit(ctx, events.Event{
		Name:    events.JobSubmitFailed,
		Level:   events.LevelError,
		Attempt: attempts,
		At:      c.clock.Now(),
		Fields:  map[string]any{"class": string(cls.Class), "error": errString(lastErr)},
	})
	return nil, &SubmissionError{Classification: cls, Attempts: attempts, Err: lastErr}
}

// AwaitCompletion polls job until it completes, fails, exhausts its budget or ctx
// is cancelled. Failure is always a *PollError.
func (c *Client) AwaitCompletion(ctx context.Context, job *Job, budget Budget) (*domain.JobResult, error) {
	if budget.MaxAttempts <= 0 {
		budget.MaxAttempts = c.cfg.MaxPollAttempts
	}
	if budget.MaxWait <= 0 {
		budget.MaxWait = c.cfg.MaxWait
	}

	start := c.clock.Now()
	if err := job.transition(domain.JobStatusPolling, "polling started", start); err != nil {
		return nil, err
	}
	c.emit(ctx, events.Event{
		Name:   events.JobPolling,
		Level:  events.LevelInfo,
		JobID:  job.ID(),
		At:     start,
		Fields: map[string]any{"max_attempts": budget.MaxAttempts, "max_wait": budget.MaxWait.String()},
	})

	var (
		lastErr error
		lastCls *failure.Classification
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.cancelled(ctx, job, start, err)
		}

		attempt := job.beginAttempt()
		report, err := c.remote.TaskStatus(ctx, job.ID())
		elapsed := c.clock.Since(start)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, c.cancelled(ctx, job, start, ctxErr)
			}
			cls := failure.Classify(err)
			job.observe(nil, elapsed)
			c.emit(ctx, events.Event{
				Name:    events.JobPollError,
				Level:   events.LevelWarn,
				JobID:   job.ID(),
				Attempt: attempt,
				Elapsed: elapsed,
				At:      c.clock.Now(),
				Fields:  map[string]any{"class": string(cls.Class), "error": err.Error()},
			})
			if !cls.Retryable {
				return nil, c.failed(ctx, job, PollRemoteFailure, cls, err, elapsed)
			}
			lastErr, lastCls = err, &cls
		} else {
			job.observe(report.Raw, elapsed)
			switch report.State {
			case domain.TaskStateCompleted:
				return c.completed(ctx, job, report, elapsed)
			case domain.TaskStateFailed:
				remoteErr := &failure.RemoteFailure{Status: report.RawStatus, Message: report.Message}
				return nil, c.failed(ctx, job, PollRemoteFailure, failure.Classify(remoteErr), remoteErr, elapsed)
			default:
				c.emit(ctx, events.Event{
					Name:    events.JobPollPending,
					Level:   events.LevelInfo,
					JobID:   job.ID(),
					Attempt: attempt,
					Elapsed: elapsed,
					At:      c.clock.Now(),
					Fields:  map[string]any{"status": report.RawStatus},
				})
				lastErr, lastCls = nil, nil
			}
		}

		if attempt >= budget.MaxAttempts || elapsed >= budget.MaxWait {
			return nil, c.timedOut(ctx, job, budget, lastErr, elapsed)
		}

		delay := c.retryDelay(c.pollPolicy, attempt, lastCls)
		if remaining := budget.MaxWait - elapsed; delay > remaining {
			delay = remaining
		}
		c.log.Debug("jobs.poll.sleep", "job_id", job.ID(), "attempt", attempt, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.cancelled(ctx, job, start, err)
		}
	}
}

func (c *Client) completed(ctx context.Context, job *Job, report *domain.TaskReport, elapsed time.Duration) (*domain.JobResult, error) {
	urls := make([]string, 0, len(report.ImageURLs))
	for _, u := range report.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		err := &failure.MalformedError{Detail: "completed job has no image urls"}
		return nil, c.failed(ctx, job, PollRemoteFailure, failure.Classify(err), err, elapsed)
	}

	req := job.Request()
	prompt := report.PromptUsed
	if prompt == "" {
		prompt = req.Prompt
	}
	attempts := job.Attempts()
	result := &domain.JobResult{
		TaskID:      job.ID(),
		ImageURL:    urls[0],
		ImageURLs:   urls,
		Seed:        report.Seed,
		PromptUsed:  prompt,
		AspectRatio: req.AspectRatio,
		Attempts:    attempts,
		Elapsed:     elapsed,
		Slow:        attempts > c.cfg.SlowAttempts || elapsed > c.cfg.SlowAfter,
	}

	now := c.clock.Now()
	if err := job.complete(result, now); err != nil {
		return nil, err
	}
	c.emit(ctx, events.Event{
		Name:    events.JobCompleted,
		Level:   events.LevelInfo,
		JobID:   job.ID(),
		Attempt: attempts,
		Elapsed: elapsed,
		At:      now,
		Fields:  map[string]any{"image_url": result.ImageURL, "images": len(urls)},
	})
	if result.Slow {
		c.emit(ctx, events.Event{
			Name:    events.JobSlow,
			Level:   events.LevelWarn,
			JobID:   job.ID(),
			Attempt: attempts,
			Elapsed: elapsed,
			At:      now,
			Fields: map[string]any{
				"slow_attempts": c.cfg.SlowAttempts,
				"slow_after":    c.cfg.SlowAfter.String(),
			},
		})
	}
	return result, nil
}

func (c *Client) failed(ctx context.Context, job *Job, kind PollFailureKind, cls failure.Classification, cause error, elapsed time.Duration) error {
	now := c.clock.Now()
	if err := job.fail(domain.JobStatusFailed, string(cls.Class), errString(cause), now); err != nil {
		return err
	}
	attempts := job.Attempts()
	c.emit(ctx, events.Event{
		Name:    events.JobFailed,
		Level:   events.LevelError,
		JobID:   job.ID(),
		Attempt: attempts,
		Elapsed: elapsed,
		At:      now,
		Fields:  map[string]any{"class": string(cls.Class), "error": errString(cause)},
	})
	return &PollError{
		JobID:          job.ID(),
		Kind:           kind,
		Classification: cls,
		Attempts:       attempts,
		Elapsed:        elapsed,
		Err:            cause,
	}
}

func (c *Client) timedOut(ctx context.Context, job *Job, budget Budget, lastErr error, elapsed time.Duration) error {
	kind := PollTimeout
	if lastErr != nil {
		kind = PollTransientExhausted
	}
	attempts := job.Attempts()
	reason := fmt.Sprintf("budget exhausted (%d/%d attempts, %s/%s)",
		attempts, budget.MaxAttempts, elapsed.Round(time.Millisecond), budget.MaxWait)

	now := c.clock.Now()
	if err := job.fail(domain.JobStatusTimedOut, string(failure.ClassTimeout), reason, now); err != nil {
		return err
	}
	c.emit(ctx, events.Event{
		Name:    events.JobTimedOut,
		Level:   events.LevelError,
		JobID:   job.ID(),
		Attempt: attempts,
		Elapsed: elapsed,
		At:      now,
		Fields:  map[string]any{"kind": string(kind), "reason": reason},
	})

	cause := lastErr
	if cause == nil {
		cause = errors.New(reason)
	}
	return &PollError{
		JobID: job.ID(),
		Kind:  kind,
		Classification: failure.Classification{
			Class:     failure.ClassTimeout,
			Retryable: failure.ClassTimeout.Retryable(),
			Detail:    reason,
		},
		Attempts: attempts,
		Elapsed:  elapsed,
		Err:      cause,
	}
}

func (c *Client) cancelled(ctx context.Context, job *Job, start time.Time, cause error) error {
	elapsed := c.clock.Since(start)
	job.observe(nil, elapsed)
	now := c.clock.Now()
	if err := job.fail(domain.JobStatusCancelled, string(failure.ClassCancelled), errString(cause), now); err != nil {
		return err
	}
	attempts := job.Attempts()
	c.emit(ctx, events.Event{
		Name:    events.JobCancelled,
		Level:   events.LevelWarn,
		JobID:   job.ID(),
		Attempt: attempts,
		Elapsed: elapsed,
		At:      now,
		Fields:  map[string]any{"error": errString(cause)},
	})
	return &PollError{
		JobID: job.ID(),
		Kind:  PollCancelled,
		Classification: failure.Classification{
			Class:  failure.ClassCancelled,
			Detail: errString(cause),
		},
		Attempts: attempts,
		Elapsed:  elapsed,
		Err:      cause,
	}
}

// retryDelay honours a server-provided Retry-After when it exceeds the policy's
// delay, but never beyond the policy ceiling.
func (c *Client) retryDelay(p *backoff.Policy, attempt int, cls *failure.Classification) time.Duration {
	delay := p.Delay(attempt)
	if cls != nil && cls.RetryAfter > delay {
		delay = min(cls.RetryAfter, p.Ceiling())
	}
	return delay
}

func (c *Client) emit(ctx context.Context, evt events.Event) {
	if evt.RunID == "" {
		evt.RunID = events.RunIDFrom(ctx)
	}
	c.sink.Emit(ctx, evt)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
