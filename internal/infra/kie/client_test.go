package kie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", RequestTimeout: 2 * time.Second}), srv
}

func TestCreateTask_SendsRequest(t *testing.T) {
	var got createTaskRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/playground/createTask" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"success":true,"data":{"taskId":"task-123"}}`))
	})

	id, err := c.CreateTask(context.Background(), domain.GenerationRequest{
		Prompt:         "minimal dunes at dusk",
		NegativePrompt: "blurry",
		AspectRatio:    "4:5",
		NumImages:      1,
		Quality:        "premium",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id != "task-123" {
		t.Errorf("id = %q", id)
	}
	if got.Model != DefaultModel || got.Prompt != "minimal dunes at dusk" || got.AspectRatio != "4:5" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestCreateTask_TopLevelTaskID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"msg":"success","taskId":"top-1"}`))
	})
	id, err := c.CreateTask(context.Background(), domain.GenerationRequest{Prompt: "p"})
	if err != nil || id != "top-1" {
		t.Fatalf("id=%q err=%v", id, err)
	}
}

func TestCreateTask_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   failure.Class
	}{
		{"missing task id", 200, `{"success":true,"data":{}}`, failure.ClassMalformed},
		{"not json", 200, `<html>oops</html>`, failure.ClassMalformed},
		{"in-band auth code", 200, `{"code":401,"msg":"invalid key"}`, failure.ClassAuth},
		{"in-band server code", 200, `{"code":500,"msg":"busy"}`, failure.ClassTransientServer},
		{"success false", 200, `{"success":false,"message":"quota"}`, failure.ClassJobFailed},
		{"http 503", 503, `unavailable`, failure.ClassTransientServer},
		{"http 403", 403, `forbidden`, failure.ClassAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.CreateTask(context.Background(), domain.GenerationRequest{Prompt: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := failure.Classify(err).Class; got != tt.want {
				t.Errorf("class = %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestCreateTask_MissingKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.CreateTask(context.Background(), domain.GenerationRequest{Prompt: "p"})
	if !errors.Is(err, failure.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("no request should be sent without a key")
	}
}

func TestTaskStatus_Parsing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantState domain.TaskState
		wantURLs  []string
		wantSeed  string
	}{
		{
			name:      "processing",
			body:      `{"success":true,"data":{"status":"processing"}}`,
			wantState: domain.TaskStateRunning,
		},
		{
			name:      "completed images",
			body:      `{"success":true,"data":{"status":"completed","seed":42,"prompt":"p2","images":[{"url":"https://cdn/1.png"},{"url":""},{"url":"https://cdn/2.png"}]}}`,
			wantState: domain.TaskStateCompleted,
			wantURLs:  []string{"https://cdn/1.png", "https://cdn/2.png"},
			wantSeed:  "42",
		},
		{
			name:      "completed records with meta seed",
			body:      `{"data":{"status":"success","records":[{"imageUrl":"https://cdn/r.png","meta":{"seed":"777"}}]}}`,
			wantState: domain.TaskStateCompleted,
			wantURLs:  []string{"https://cdn/r.png"},
			wantSeed:  "777",
		},
		{
			name:      "failed",
			body:      `{"success":true,"data":{"status":"failed","failMsg":"content policy"}}`,
			wantState: domain.TaskStateFailed,
		},
		{
			name:      "top level status",
			body:      `{"status":"queued"}`,
			wantState: domain.TaskStateRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/playground/recordInfo" || r.URL.Query().Get("taskId") != "task-9" {
					t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
				}
				w.Write([]byte(tt.body))
			})
			report, err := c.TaskStatus(context.Background(), "task-9")
			if err != nil {
				t.Fatalf("TaskStatus: %v", err)
			}
			if report.State != tt.wantState {
				t.Errorf("state = %s, want %s", report.State, tt.wantState)
			}
			if len(report.ImageURLs) != len(tt.wantURLs) {
				t.Fatalf("urls = %v, want %v", report.ImageURLs, tt.wantURLs)
			}
			for i := range tt.wantURLs {
				if report.ImageURLs[i] != tt.wantURLs[i] {
					t.Errorf("url[%d] = %q", i, report.ImageURLs[i])
				}
			}
			if report.Seed != tt.wantSeed {
				t.Errorf("seed = %q, want %q", report.Seed, tt.wantSeed)
			}
			if len(report.Raw) == 0 {
				t.Errorf("raw payload not kept")
			}
		})
	}
}

func TestTaskStatus_FailedMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"error","error":"nsfw detected"}}`))
	})
	report, err := c.TaskStatus(context.Background(), "t")
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if report.Message != "nsfw detected" {
		t.Errorf("message = %q", report.Message)
	}
}

func TestTaskStatus_MalformedResponses(t *testing.T) {
	bodies := []string{
		`{"success":true,"data":{}}`,
		`{"success":true,"data":{"status":"completed","images":[]}}`,
		`not json`,
	}
	for _, body := range bodies {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		_, err := c.TaskStatus(context.Background(), "t")
		if got := failure.Classify(err).Class; got != failure.ClassMalformed {
			t.Errorf("body %s: class = %s, want malformed (err=%v)", body, got, err)
		}
	}
}

func TestTaskStatus_RetryAfterHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.TaskStatus(context.Background(), "t")
	cls := failure.Classify(err)
	if cls.Class != failure.ClassTransientServer || cls.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected classification %+v", cls)
	}
}

func TestTaskStatus_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", RequestTimeout: 50 * time.Millisecond})
	_, err := c.TaskStatus(context.Background(), "t")
	if got := failure.Classify(err).Class; got != failure.ClassTimeout {
		t.Fatalf("class = %s, want timeout (err=%v)", got, err)
	}
}

func TestHealth_TracksFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"status":"processing"}}`))
	})

	for i := 0; i < unavailableAfter; i++ {
		_, _ = c.TaskStatus(context.Background(), "t")
	}
	h := c.Health()
	if h.Available || h.ConsecutiveFails != unavailableAfter || h.ErrorRate != 1 {
		t.Fatalf("unexpected health after failures: %+v", h)
	}

	fail.Store(false)
	if _, err := c.TaskStatus(context.Background(), "t"); err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	h = c.Health()
	if !h.Available || h.ConsecutiveFails != 0 || h.SuccessCount != 1 {
		t.Fatalf("unexpected health after recovery: %+v", h)
	}
}
