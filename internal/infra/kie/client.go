package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
	"github.com/vietddude/artline/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.kie.ai/api/v1"
	DefaultModel   = "nano-banana-pro"

	createTaskPath = "/playground/createTask"
	recordInfoPath = "/playground/recordInfo"

	opCreate = "create_task"
	opRecord = "record_info"

	// consecutive failures after which the service is reported unavailable
	unavailableAfter = 5
)

// Config holds KIE API settings.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HealthStatus summarizes recent calls to the API.
type HealthStatus struct {
	Available        bool          `json:"available"`
	RequestCount     int           `json:"request_count"`
	SuccessCount     int           `json:"success_count"`
	FailureCount     int           `json:"failure_count"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	ErrorRate        float64       `json:"error_rate"`
	AvgLatency       time.Duration `json:"avg_latency"`
	LastSuccessAt    time.Time     `json:"last_success_at"`
	LastFailureAt    time.Time     `json:"last_failure_at"`
}

// Client talks to the KIE playground task API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
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

// NewClient creates a KIE client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default(),
		health: HealthStatus{
			Available: true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTaskRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio"`
	NumImages      int    `json:"num_images,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
}

// CreateTask submits a generation task and returns its id.
func (c *Client) CreateTask(ctx context.Context, req domain.GenerationRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	payload, err := json.Marshal(createTaskRequest{
		Model:          model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		NumImages:      req.NumImages,
		Quality:        req.Quality,
		Style:          req.Style,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	body, latency, err := c.do(ctx, opCreate, http.MethodPost, c.cfg.BaseURL+createTaskPath, payload)
	if err != nil {
		return "", err
	}

	resp, err := decodeResponse(body)
	if err == nil {
		err = resp.apiError()
	}
	if err != nil {
		c.recordFailure(opCreate)
		return "", err
	}

	taskID := resp.TaskID
	if resp.data != nil && resp.data.TaskID != "" {
		taskID = resp.data.TaskID
	}
	if taskID == "" {
		c.recordFailure(opCreate)
		return "", &failure.MalformedError{Detail: "missing taskId in response: " + snippet(body)}
	}
	c.recordSuccess(opCreate, latency)

	c.log.Debug("kie.task.created", "task_id", taskID, "model", model)
	return taskID, nil
}

// TaskStatus fetches the record info for a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*domain.TaskReport, error) {
	endpoint := c.cfg.BaseURL + recordInfoPath + "?" + url.Values{"taskId": {taskID}}.Encode()
	body, latency, err := c.do(ctx, opRecord, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var report *domain.TaskReport
	resp, err := decodeResponse(body)
	if err == nil {
		err = resp.apiError()
	}
	if err == nil {
		report, err = resp.report(taskID, body)
	}
	if err != nil {
		c.recordFailure(opRecord)
		return nil, err
	}
	c.recordSuccess(opRecord, latency)
	return report, nil
}

// Health returns a snapshot of the client's call statistics.
func (c *Client) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.health
	if h.RequestCount > 0 {
		h.ErrorRate = float64(h.FailureCount) / float64(h.RequestCount)
	}
	if h.SuccessCount > 0 {
		h.AvgLatency = c.totalLatency / time.Duration(h.SuccessCount)
	}
	return h
}

// do performs one HTTP exchange. Transport failures and non-2xx statuses are
// recorded here; the caller records the outcome once the body is decoded.
func (c *Client) do(ctx context.Context, op, method, endpoint string, payload []byte) ([]byte, time.Duration, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, 0, fmt.Errorf("kie %s: %w", op, failure.ErrMissingCredential)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(op)
		return nil, 0, fmt.Errorf("kie %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.recordFailure(op)
		return nil, 0, fmt.Errorf("kie %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordFailure(op)
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, 0, fmt.Errorf("kie %s: %w", op, &failure.StatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
			RetryAfter: retryAfter,
		})
	}

	return body, time.Since(start), nil
}

func (c *Client) recordSuccess(op string, latency time.Duration) {
	metrics.RemoteRequests.WithLabelValues(op, "ok").Inc()
	metrics.RemoteLatency.WithLabelValues(op).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.RequestCount++
	c.health.SuccessCount++
	c.health.ConsecutiveFails = 0
	c.health.Available = true
	c.health.LastSuccessAt = time.Now()
	c.totalLatency += latency
}

func (c *Client) recordFailure(op string) {
	metrics.RemoteRequests.WithLabelValues(op, "error").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.RequestCount++
	c.health.FailureCount++
	c.health.ConsecutiveFails++
	c.health.LastFailureAt = time.Now()
	if c.health.ConsecutiveFails >= unavailableAfter {
		c.health.Available = false
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

func snippet(body []byte) string {
	clean := strings.Join(strings.Fields(string(body)), " ")
	const limit = 300
	if len(clean) > limit {
		return clean[:limit] + "..."
	}
	return clean
}
