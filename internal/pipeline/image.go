package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
	"github.com/vietddude/artline/internal/events"
	"github.com/vietddude/artline/internal/infra/storage"
	"github.com/vietddude/artline/internal/jobs"
)

// ImageConfig holds the per-deployment generation defaults.
type ImageConfig struct {
	Model          string `yaml:"model"`
	NegativePrompt string `yaml:"negative_prompt"`
	Style          string `yaml:"style"`
	Quality        string `yaml:"quality"`
	NumImages      int    `yaml:"num_images"`
}

func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		NegativePrompt: "messy textures, chaotic shapes, distorted Arabic text, low quality, blurry",
		Style:          "cinematic-premium",
		Quality:        "premium",
		NumImages:      1,
	}
}

// WithDefaults fills empty fields from DefaultImageConfig.
func (c ImageConfig) WithDefaults() ImageConfig {
	d := DefaultImageConfig()
	if c.NegativePrompt == "" {
		c.NegativePrompt = d.NegativePrompt
	}
	if c.Style == "" {
		c.Style = d.Style
	}
	if c.Quality == "" {
		c.Quality = d.Quality
	}
	if c.NumImages <= 0 {
		c.NumImages = d.NumImages
	}
	return c
}

// unknownSeed stands in when the remote service does not report one.
const unknownSeed = "N/A"

// JobImageStage renders images through the job client and reports the result
// as an image envelope.
type JobImageStage struct {
	client *jobs.Client
	cfg    ImageConfig
	jobs   storage.JobRepository
	log    *slog.Logger
}

// NewJobImageStage builds the stage. repo may be nil.
func NewJobImageStage(client *jobs.Client, cfg ImageConfig, repo storage.JobRepository, log *slog.Logger) *JobImageStage {
	if log == nil {
		log = slog.Default()
	}
	return &JobImageStage{client: client, cfg: cfg.WithDefaults(), jobs: repo, log: log}
}

func (s *JobImageStage) Generate(ctx context.Context, pkg *contract.PromptPackage, feedback *contract.ValidationDetail) ([]byte, error) {
	req := s.Request(pkg, feedback)
	job, result, err := s.client.Run(ctx, req)
	if job != nil && s.jobs != nil {
		if saveErr := s.jobs.Save(context.WithoutCancel(ctx), job.Record(events.RunIDFrom(ctx))); saveErr != nil {
			s.log.Warn("Failed to record job", "job_id", job.ID(), "error", saveErr)
		}
	}

	env := contract.ImageEnvelope{Header: contract.Header{Agent: domain.RoleImage, Status: contract.StatusOK}}
	if err != nil {
		env.Status = contract.StatusError
		env.Error = &contract.ErrorInfo{Type: string(classOf(err)), Details: err.Error()}
		return json.Marshal(env)
	}

	seed := result.Seed
	if seed == "" {
		seed = unknownSeed
	}
	taskID := result.TaskID
	numImages := len(result.ImageURLs)
	pollSeconds := result.Elapsed.Seconds()
	attempts := result.Attempts
	style := req.Style
	env.ImageResult = &contract.ImageResult{
		Success:             true,
		TaskID:              &taskID,
		ImageURL:            result.ImageURL,
		AllImageURLs:        result.ImageURLs,
		Seed:                seed,
		PromptUsed:          result.PromptUsed,
		AspectRatio:         result.AspectRatio,
		NumImages:           &numImages,
		Style:               &style,
		PollDurationSeconds: &pollSeconds,
		Attempts:            &attempts,
	}
	return json.Marshal(env)
}

// Request maps a prompt package onto a generation request. QA feedback is
// appended to the prompt so a regeneration addresses the reported issues.
func (s *JobImageStage) Request(pkg *contract.PromptPackage, feedback *contract.ValidationDetail) domain.GenerationRequest {
	req := domain.GenerationRequest{
		Model:          s.cfg.Model,
		Prompt:         pkg.Prompt,
		NegativePrompt: pkg.NegativePrompt,
		AspectRatio:    pkg.AspectRatio,
		Style:          pkg.Style,
		Quality:        pkg.Quality,
		NumImages:      s.cfg.NumImages,
	}
	if req.NegativePrompt == "" {
		req.NegativePrompt = s.cfg.NegativePrompt
	}
	if req.Style == "" {
		req.Style = s.cfg.Style
	}
	if req.Quality == "" {
		req.Quality = s.cfg.Quality
	}
	if pkg.NumImages != nil && *pkg.NumImages > 0 {
		req.NumImages = *pkg.NumImages
	}
	if note := feedbackNote(feedback); note != "" {
		req.Prompt += "\n\n" + note
	}
	return req
}

func feedbackNote(v *contract.ValidationDetail) string {
	if v == nil {
		return ""
	}
	var parts []string
	if len(v.Issues) > 0 {
		parts = append(parts, "Fix these issues: "+strings.Join(v.Issues, "; ")+".")
	}
	if r := strings.TrimSpace(v.Recommendation); r != "" {
		parts = append(parts, r)
	}
	return strings.Join(parts, " ")
}

func classOf(err error) failure.Class {
	var subErr *jobs.SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Classification.Class
	}
	var pollErr *jobs.PollError
	if errors.As(err, &pollErr) {
		return pollErr.Classification.Class
	}
	return failure.Classify(err).Class
}
