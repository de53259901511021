package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/events"
	"github.com/vietddude/artline/internal/infra/storage"
	"github.com/vietddude/artline/internal/routing"
)

func errMissingStage(name string) error {
	return fmt.Errorf("pipeline: %s stage is required", name)
}

// Config bounds a run.
type Config struct {
	MaxRegenerations int `yaml:"max_regenerations"`
}

func DefaultConfig() Config {
	return Config{MaxRegenerations: 2}
}

// RunState is everything one run has accumulated. It belongs to the goroutine
// executing the run and is never shared between runs.
type RunState struct {
	ID            string
	Input         string
	Stage         domain.Role
	Brief         *contract.BriefContent
	Prompt        *contract.PromptPackage
	Image         *contract.ImageResult
	Verdict       *contract.ValidationDetail
	Delivery      *contract.DeliveryPackage
	Regenerations int
	Deliveries    []string
	StartedAt     time.Time
}

// stageFailure stops a run with a structured error.
type stageFailure struct {
	stage domain.Role
	err   *OutcomeError
}

func (f *stageFailure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.stage, f.err.Type, f.err.Details)
}

type Option func(*Runner)

func WithRunRepository(repo storage.RunRepository) Option {
	return func(r *Runner) {
		r.runs = repo
	}
}

func WithSink(sink events.Sink) Option {
	return func(r *Runner) {
		if sink != nil {
			r.sink = sink
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Runner drives one input through brief, art direction, image, QA and export.
// Every handoff goes through the router; QA may send the run back for a bounded
// number of regenerations.
type Runner struct {
	stages Stages
	router *routing.Router
	cfg    Config
	runs   storage.RunRepository
	sink   events.Sink
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewRunner(stages Stages, router *routing.Router, cfg Config, opts ...Option) (*Runner, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if router == nil {
		return nil, errors.New("pipeline: router is required")
	}
	if cfg.MaxRegenerations < 0 {
		cfg.MaxRegenerations = 0
	}
	r := &Runner{
		stages: stages,
		router: router,
		cfg:    cfg,
		sink:   events.Nop,
		log:    slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the pipeline for input. It never returns an error: failures are
// reported in the outcome.
func (r *Runner) Run(ctx context.Context, input string) *Outcome {
	state := &RunState{ID: r.newID(), Input: input, Stage: domain.RoleBrief, StartedAt: r.now()}
	ctx = events.WithRunID(ctx, state.ID)

	r.save(ctx, state, domain.RunStatusRunning, nil)
	r.emit(ctx, events.RunStarted, events.LevelInfo, map[string]any{"input_len": len(input)})

	err := r.execute(ctx, state)
	if err == nil {
		r.save(ctx, state, domain.RunStatusDelivered, nil)
		r.emit(ctx, events.RunDelivered, events.LevelInfo, map[string]any{
			"image_url":     state.Delivery.ImageURL,
			"regenerations": state.Regenerations,
		})
		return &Outcome{
			RunID:         state.ID,
			Status:        domain.RunStatusDelivered,
			Stage:         domain.RoleExport,
			Regenerations: state.Regenerations,
			Delivery:      state.Delivery,
			Verdict:       state.Verdict,
		}
	}

	var sf *stageFailure
	if !errors.As(err, &sf) {
		sf = &stageFailure{stage: state.Stage, err: &OutcomeError{Type: ErrTypeStageUnavailable, Details: err.Error()}}
	}
	r.save(ctx, state, domain.RunStatusError, sf.err)
	r.emit(ctx, events.RunFailed, events.LevelError, map[string]any{
		"stage":      string(sf.stage),
		"error_type": sf.err.Type,
		"detail":     sf.err.Details,
	})
	return &Outcome{
		RunID:         state.ID,
		Status:        domain.RunStatusError,
		Stage:         sf.stage,
		Regenerations: state.Regenerations,
		Verdict:       state.Verdict,
		Error:         sf.err,
	}
}

func (r *Runner) execute(ctx context.Context, state *RunState) error {
	// brief -> art direction
	raw, err := r.stages.Brief.Brief(ctx, state.Input)
	if err != nil {
		return r.unavailable(ctx, state, err)
	}
	brief, err := handoff[*contract.BriefEnvelope](ctx, r, state, domain.RoleArtDirection, raw)
	if err != nil {
		return err
	}
	state.Brief = brief.Brief

	if err := r.direct(ctx, state, nil); err != nil {
		return err
	}

	var feedback *contract.ValidationDetail
	for {
		// image -> qa
		state.Stage = domain.RoleImage
		raw, err = r.stages.Image.Generate(ctx, state.Prompt, feedback)
		if err != nil {
			return r.unavailable(ctx, state, err)
		}
		image, err := handoff[*contract.ImageEnvelope](ctx, r, state, domain.RoleQA, raw)
		if err != nil {
			return err
		}
		if !image.ImageResult.Success {
			return &stageFailure{stage: domain.RoleImage, err: &OutcomeError{
				Type:    ErrTypeImageFailed,
				Details: deref(image.ImageResult.Error),
			}}
		}
		state.Image = image.ImageResult

		// qa -> export, or back to an earlier stage
		state.Stage = domain.RoleQA
		raw, err = r.stages.Quality.Inspect(ctx, state.Image, state.Prompt.AspectRatio)
		if err != nil {
			return r.unavailable(ctx, state, err)
		}
		next := qaRecipient(raw)
		qa, err := handoff[*contract.QAEnvelope](ctx, r, state, next, raw)
		if err != nil {
			return err
		}
		state.Verdict = qa.Validation
		if qa.Approved() {
			break
		}

		if state.Regenerations >= r.cfg.MaxRegenerations {
			return &stageFailure{stage: domain.RoleQA, err: &OutcomeError{
				Type: ErrTypeRetriesExhausted,
				Details: fmt.Sprintf("image rejected after %d regeneration(s): %s",
					state.Regenerations, qa.Validation.Recommendation),
			}}
		}
		state.Regenerations++
		feedback = qa.Validation
		r.emit(ctx, events.RunRegenerating, events.LevelWarn, map[string]any{
			"regeneration": state.Regenerations,
			"target":       string(next),
			"issues":       len(qa.Validation.Issues),
		})

		if next == domain.RoleArtDirection {
			if err := r.direct(ctx, state, feedback); err != nil {
				return err
			}
			// the new prompt already carries the feedback
			feedback = nil
		}
	}

	// export -> orchestrator
	state.Stage = domain.RoleExport
	raw, err = r.stages.Export.Export(ctx, ExportRequest{
		Brief:   state.Brief,
		Prompt:  state.Prompt,
		Image:   state.Image,
		Verdict: state.Verdict,
	})
	if err != nil {
		return r.unavailable(ctx, state, err)
	}
	delivery, err := handoff[*contract.DeliveryEnvelope](ctx, r, state, domain.RoleOrchestrator, raw)
	if err != nil {
		return err
	}
	state.Delivery = delivery.Delivery
	return nil
}

func (r *Runner) direct(ctx context.Context, state *RunState, feedback *contract.ValidationDetail) error {
	state.Stage = domain.RoleArtDirection
	raw, err := r.stages.ArtDirection.Direct(ctx, state.Brief, feedback)
	if err != nil {
		return r.unavailable(ctx, state, err)
	}
	prompt, err := handoff[*contract.PromptEnvelope](ctx, r, state, domain.RoleImage, raw)
	if err != nil {
		return err
	}
	state.Prompt = prompt.PromptPackage
	return nil
}

// handoff routes raw from the current stage to the recipient and unwraps the
// envelope. Rejections and stage error envelopes both end the run.
func handoff[T contract.Envelope](ctx context.Context, r *Runner, state *RunState, to domain.Role, raw []byte) (T, error) {
	var zero T
	from := state.Stage

	d, err := r.router.Route(ctx, from, to, raw)
	if err != nil {
		if rej, ok := routing.AsRejection(err); ok {
			return zero, &stageFailure{stage: from, err: rejectionError(rej)}
		}
		return zero, err
	}
	state.Deliveries = append(state.Deliveries, d.ID)

	env, ok := d.Envelope.(T)
	if !ok {
		return zero, fmt.Errorf("edge %s carried %T", d.Edge, d.Envelope)
	}
	if info := env.Failure(); !env.Succeeded() && info != nil {
		return zero, &stageFailure{stage: from, err: &OutcomeError{Type: info.Type, Details: info.Details}}
	}
	return env, nil
}

func (r *Runner) unavailable(ctx context.Context, state *RunState, err error) error {
	if ctx.Err() != nil {
		return &stageFailure{stage: state.Stage, err: &OutcomeError{Type: ErrTypeCancelled, Details: err.Error()}}
	}
	return &stageFailure{stage: state.Stage, err: &OutcomeError{Type: ErrTypeStageUnavailable, Details: err.Error()}}
}

// qaRecipient picks the edge a QA envelope travels on. Payloads that cannot be
// read are sent forward so the validator reports them.
func qaRecipient(raw []byte) domain.Role {
	var head struct {
		Status  contract.Status   `json:"status"`
		Handoff *contract.Handoff `json:"handoff"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Status != contract.StatusRetry {
		return domain.RoleExport
	}
	if head.Handoff != nil && domain.ParseRole(head.Handoff.TargetAgent) == domain.RoleArtDirection {
		return domain.RoleArtDirection
	}
	return domain.RoleImage
}

func (r *Runner) save(ctx context.Context, state *RunState, status domain.RunStatus, oe *OutcomeError) {
	if r.runs == nil {
		return
	}
	rec := &domain.RunRecord{
		ID:            state.ID,
		Input:         state.Input,
		Status:        status,
		Stage:         state.Stage,
		Regenerations: state.Regenerations,
		StartedAt:     state.StartedAt,
	}
	if state.Image != nil {
		rec.ImageURL = state.Image.ImageURL
		rec.JobID = deref(state.Image.TaskID)
	}
	if state.Delivery != nil {
		rec.ViewURL = state.Delivery.GDriveViewURL
		rec.DownloadURL = state.Delivery.GDriveDownloadURL
	}
	if oe != nil {
		rec.ErrorType = oe.Type
		rec.ErrorDetail = oe.Details
	}
	if status != domain.RunStatusRunning {
		rec.FinishedAt = r.now()
	}
	if err := r.runs.Save(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("Failed to record run", "run_id", state.ID, "error", err)
	}
}

func (r *Runner) emit(ctx context.Context, name string, level events.Level, fields map[string]any) {
	r.sink.Emit(ctx, events.Event{
		Name:   name,
		Level:  level,
		RunID:  events.RunIDFrom(ctx),
		At:     r.now(),
		Fields: fields,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
