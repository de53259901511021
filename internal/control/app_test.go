package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vietddude/artline/internal/core/config"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/health"
)

func TestNewApp_MemoryDefaults(t *testing.T) {
	app, err := NewApp(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	if app.Runner() == nil || app.Router() == nil || app.Validator() == nil {
		t.Fatal("expected pipeline components to be wired")
	}
	if app.Redis() != nil {
		t.Error("expected no redis client without a URL")
	}
	if app.Runs() == nil || app.Jobs() == nil {
		t.Fatal("expected memory ledgers")
	}

	report := app.Monitor().CheckHealth(context.Background())
	if report.SystemStatus != health.StatusHealthy {
		t.Errorf("expected healthy report, got %+v", report)
	}
	if _, ok := report.Components["storage"]; !ok {
		t.Error("expected storage component in report")
	}
}

func TestNewApp_RouterUsesConfiguredDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Defaults.AspectRatio = "16:9"

	app, err := NewApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	if got := app.Validator().Defaults().AspectRatio; got != "16:9" {
		t.Errorf("expected configured aspect ratio, got %q", got)
	}
}

func TestNewApp_ServesHandoffs(t *testing.T) {
	app, err := NewApp(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	ts := httptest.NewServer(app.healthServer.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/handoffs/"+string(domain.RoleQA)+"/"+string(domain.RoleExport),
		"application/json", strings.NewReader(`{"agent":"qa_agent"}`))
	if err != nil {
		t.Fatalf("POST handoff: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for incomplete QA envelope, got %d", resp.StatusCode)
	}
}
