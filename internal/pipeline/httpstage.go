package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/artline/internal/contract"
)

// ErrStageNotConfigured is returned when a stage has no endpoint.
var ErrStageNotConfigured = errors.New("stage endpoint not configured")

const maxStageResponse = 1 << 20

// StagesConfig points each collaborator stage at an HTTP endpoint.
type StagesConfig struct {
	BriefURL        string        `yaml:"brief_url"`
	ArtDirectionURL string        `yaml:"art_direction_url"`
	QualityURL      string        `yaml:"quality_url"`
	ExportURL       string        `yaml:"export_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// HTTPStages calls remote stage services with JSON bodies and returns their
// response bodies as raw envelopes.
type HTTPStages struct {
	cfg    StagesConfig
	client *http.Client
}

func NewHTTPStages(cfg StagesConfig, client *http.Client) *HTTPStages {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPStages{cfg: cfg, client: client}
}

func (s *HTTPStages) Brief(ctx context.Context, input string) ([]byte, error) {
	return s.post(ctx, "brief", s.cfg.BriefURL, map[string]any{"input": input})
}

func (s *HTTPStages) Direct(ctx context.Context, brief *contract.BriefContent, feedback *contract.ValidationDetail) ([]byte, error) {
	return s.post(ctx, "art_direction", s.cfg.ArtDirectionURL, map[string]any{
		"brief":    brief,
		"feedback": feedback,
	})
}

func (s *HTTPStages) Inspect(ctx context.Context, image *contract.ImageResult, expectedAspectRatio string) ([]byte, error) {
	return s.post(ctx, "quality", s.cfg.QualityURL, map[string]any{
		"image_result":          image,
		"expected_aspect_ratio": expectedAspectRatio,
	})
}

func (s *HTTPStages) Export(ctx context.Context, req ExportRequest) ([]byte, error) {
	return s.post(ctx, "export", s.cfg.ExportURL, req)
}

func (s *HTTPStages) post(ctx context.Context, stage, url string, body any) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%s: %w", stage, ErrStageNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", stage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStageResponse))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", stage, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d: %s", stage, resp.StatusCode, contract.Preview(raw, 200))
	}
	return raw, nil
}
