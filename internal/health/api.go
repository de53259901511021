package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/infra/storage"
	"github.com/vietddude/artline/internal/pipeline"
	"github.com/vietddude/artline/internal/routing"
)

const maxBodyBytes = 1 << 20

// HandoffRouter validates and forwards one stage output.
type HandoffRouter interface {
	Route(ctx context.Context, from, to domain.Role, raw []byte) (*routing.Delivery, error)
}

// RunExecutor runs the pipeline for one input.
type RunExecutor interface {
	Run(ctx context.Context, input string) *pipeline.Outcome
}

// API serves the /v1 routes. Any field may be nil; its routes then answer 503.
type API struct {
	Router HandoffRouter
	Runner RunExecutor
	Runs   storage.RunRepository
	Jobs   storage.JobRepository
	Log    *slog.Logger
}

// Routes builds the /v1 sub-router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/handoffs/{from}/{to}", a.handleHandoff)
	r.Post("/runs", a.handleRun)
	r.Get("/runs", a.handleListRuns)
	r.Get("/runs/{id}", a.handleGetRun)
	return r
}

type deliveryResponse struct {
	ID          string      `json:"id"`
	From        domain.Role `json:"from"`
	To          domain.Role `json:"to"`
	Schema      string      `json:"schema,omitempty"`
	Validated   bool        `json:"validated"`
	BackEdge    bool        `json:"back_edge"`
	Payload     any         `json:"payload"`
	DeliveredAt time.Time   `json:"delivered_at"`
}

type runRequest struct {
	Input string `json:"input"`
}

type runResponse struct {
	Run  *domain.RunRecord   `json:"run"`
	Jobs []*domain.JobRecord `json:"jobs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) logger() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

func (a *API) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if a.Router == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "router not configured"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}

	from := domain.ParseRole(chi.URLParam(r, "from"))
	to := domain.ParseRole(chi.URLParam(r, "to"))

	d, err := a.Router.Route(r.Context(), from, to, raw)
	if err != nil {
		if rej, ok := routing.AsRejection(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, rej.Response())
			return
		}
		a.logger().Error("handoff failed", "from", from, "to", to, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, deliveryResponse{
		ID:          d.ID,
		From:        d.Edge.From,
		To:          d.Edge.To,
		Schema:      d.Schema,
		Validated:   d.Validated,
		BackEdge:    d.BackEdge,
		Payload:     payloadBody(d.Payload),
		DeliveredAt: d.DeliveredAt,
	})
}

// payloadBody keeps JSON payloads as-is and quotes anything else, which only
// unvalidated edges can carry.
func payloadBody(raw []byte) any {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	return string(raw)
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	if a.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline not configured"})
		return
	}
	var req runRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "input is required"})
		return
	}

	outcome := a.Runner.Run(r.Context(), req.Input)
	code := http.StatusOK
	if !outcome.Delivered() {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, outcome)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run store not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.Runs.List(r.Context(), limit)
	if err != nil {
		a.logger().Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run store not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	run, err := a.Runs.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found"})
		return
	}
	if err != nil {
		a.logger().Error("get run failed", "run_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := runResponse{Run: run, Jobs: []*domain.JobRecord{}}
	if a.Jobs != nil {
		jobs, err := a.Jobs.ListByRun(r.Context(), id)
		if err != nil {
			a.logger().Warn("list jobs failed", "run_id", id, "error", err)
		} else if jobs != nil {
			resp.Jobs = jobs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
