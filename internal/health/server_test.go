package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/infra/storage/memory"
	"github.com/vietddude/artline/internal/pipeline"
	"github.com/vietddude/artline/internal/routing"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeRunner struct {
	mu     sync.Mutex
	inputs []string
	out    *pipeline.Outcome
}

func (f *fakeRunner) Run(ctx context.Context, input string) *pipeline.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return f.out
}

func newTestServer(t *testing.T, api *API, checks ...MonitorOption) *httptest.Server {
	t.Helper()
	s := NewServer(NewMonitor(nil, checks...), 0, WithAPI(api))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newRouter(t *testing.T) *routing.Router {
	t.Helper()
	reg, err := contract.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	return routing.NewRouter(contract.NewValidator(reg))
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// =============================================================================
// Health endpoints
// =============================================================================

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil, WithCheck("storage", &stubChecker{}, true))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body)
	}
}

func TestServer_HealthCritical(t *testing.T) {
	ts := newTestServer(t, nil, WithCheck("storage", &stubChecker{err: errors.New("down")}, true))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_HealthDetailed(t *testing.T) {
	ts := newTestServer(t, nil, WithCheck("redis", &stubChecker{err: errors.New("timeout")}, false))

	resp, err := http.Get(ts.URL + "/health/detailed")
	if err != nil {
		t.Fatalf("GET /health/detailed: %v", err)
	}
	var report HealthReport
	decode(t, resp, &report)
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Components["redis"].Error != "timeout" {
		t.Errorf("expected redis error, got %+v", report.Components["redis"])
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_NoAPIRoutesWithoutAPI(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", strings.NewReader(`{"input":"x"}`))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// =============================================================================
// Handoffs
// =============================================================================

func TestAPI_HandoffRejected(t *testing.T) {
	ts := newTestServer(t, &API{Router: newRouter(t)})

	resp, err := http.Post(ts.URL+"/v1/handoffs/brief_agent/art_direction_agent", "application/json",
		strings.NewReader("Here is your brief!"))
	if err != nil {
		t.Fatalf("POST handoff: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}

	var env routing.ErrorEnvelope
	decode(t, resp, &env)
	if env.Error != "contract_violation" || env.Code != contract.CodeNonParseable {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Agent != domain.RoleBrief || env.TargetAgent != domain.RoleArtDirection {
		t.Errorf("unexpected agents %s -> %s", env.Agent, env.TargetAgent)
	}
	if env.RawOutputPreview == nil || *env.RawOutputPreview != "Here is your brief!" {
		t.Errorf("expected raw output preview, got %v", env.RawOutputPreview)
	}
}

func TestAPI_HandoffUnregisteredEdge(t *testing.T) {
	ts := newTestServer(t, &API{Router: newRouter(t)})

	resp, err := http.Post(ts.URL+"/v1/handoffs/orchestrator_agent/user", "text/plain",
		strings.NewReader("Your poster is ready."))
	if err != nil {
		t.Fatalf("POST handoff: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		ID        string `json:"id"`
		Validated bool   `json:"validated"`
		Payload   string `json:"payload"`
	}
	decode(t, resp, &body)
	if body.Validated || body.Payload != "Your poster is ready." || body.ID == "" {
		t.Errorf("unexpected delivery %+v", body)
	}
}

func TestAPI_HandoffWithoutRouter(t *testing.T) {
	ts := newTestServer(t, &API{})

	resp, err := http.Post(ts.URL+"/v1/handoffs/brief_agent/art_direction_agent", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST handoff: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

// =============================================================================
// Runs
// =============================================================================

func TestAPI_Run(t *testing.T) {
	runner := &fakeRunner{out: &pipeline.Outcome{RunID: "run-1", Status: domain.RunStatusDelivered, Stage: domain.RoleExport}}
	ts := newTestServer(t, &API{Runner: runner})

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewReader([]byte(`{"input":"Ramadan poster"}`)))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var out pipeline.Outcome
	decode(t, resp, &out)
	if out.RunID != "run-1" || !out.Delivered() {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(runner.inputs) != 1 || runner.inputs[0] != "Ramadan poster" {
		t.Errorf("unexpected runner inputs %v", runner.inputs)
	}
}

func TestAPI_RunFailedOutcome(t *testing.T) {
	runner := &fakeRunner{out: &pipeline.Outcome{
		RunID:  "run-2",
		Status: domain.RunStatusError,
		Stage:  domain.RoleImage,
		Error:  &pipeline.OutcomeError{Type: pipeline.ErrTypeImageFailed, Details: "auth"},
	}}
	ts := newTestServer(t, &API{Runner: runner})

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", strings.NewReader(`{"input":"poster"}`))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
	var out pipeline.Outcome
	decode(t, resp, &out)
	if out.Error == nil || out.Error.Type != pipeline.ErrTypeImageFailed {
		t.Errorf("expected image_failed error, got %+v", out.Error)
	}
}

func TestAPI_RunBadRequest(t *testing.T) {
	ts := newTestServer(t, &API{Runner: &fakeRunner{}})

	for _, body := range []string{`not json`, `{"input":"   "}`} {
		resp, err := http.Post(ts.URL+"/v1/runs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /v1/runs: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestAPI_GetRun(t *testing.T) {
	store := memory.NewMemoryStorage()
	runs := memory.NewRunRepo(store)
	jobs := memory.NewJobRepo(store)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := runs.Save(ctx, &domain.RunRecord{ID: "run-7", Input: "poster", Status: domain.RunStatusDelivered, StartedAt: started}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := jobs.Save(ctx, &domain.JobRecord{ID: "task-1", RunID: "run-7", Status: domain.JobStatusCompleted, SubmittedAt: started}); err != nil {
		t.Fatalf("save job: %v", err)
	}

	ts := newTestServer(t, &API{Runs: runs, Jobs: jobs})

	resp, err := http.Get(ts.URL + "/v1/runs/run-7")
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body runResponse
	decode(t, resp, &body)
	if body.Run == nil || body.Run.ID != "run-7" {
		t.Errorf("unexpected run %+v", body.Run)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].ID != "task-1" {
		t.Errorf("unexpected jobs %+v", body.Jobs)
	}

	resp, err = http.Get(ts.URL + "/v1/runs/missing")
	if err != nil {
		t.Fatalf("GET missing run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/runs?limit=5")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	var list []domain.RunRecord
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 run, got %d", len(list))
	}
}
