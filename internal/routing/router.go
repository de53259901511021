package routing

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
)

// Delivery is a payload accepted for the recipient stage.
type Delivery struct {
	ID          string
	Edge        domain.Edge
	Schema      string
	Envelope    contract.Envelope
	Payload     json.RawMessage
	Validated   bool
	BackEdge    bool
	DeliveredAt time.Time
}

// ErrorEnvelope is the structured response returned to a sender whose output
// was rejected.
type ErrorEnvelope struct {
	Error            string                 `json:"error"`
	Code             contract.ViolationCode `json:"code"`
	Agent            domain.Role            `json:"agent"`
	TargetAgent      domain.Role            `json:"target_agent"`
	Schema           string                 `json:"schema,omitempty"`
	Details          string                 `json:"details"`
	FieldErrors      []contract.FieldError  `json:"field_errors,omitempty"`
	RawOutputPreview *string                `json:"raw_output_preview"`
}

// Rejection wraps a contract violation for delivery back to the sender.
type Rejection struct {
	Edge      domain.Edge
	Violation *contract.ContractViolation
}

func (r *Rejection) Error() string {
	return "handoff " + r.Edge.String() + " rejected: " + r.Violation.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Violation
}

// Response renders the rejection as the error envelope handed back to the sender.
func (r *Rejection) Response() ErrorEnvelope {
	v := r.Violation
	details := v.Detail
	if details == "" {
		details = v.Error()
	}
	resp := ErrorEnvelope{
		Error:       "contract_violation",
		Code:        v.Code,
		Agent:       r.Edge.From,
		TargetAgent: r.Edge.To,
		Schema:      v.Schema,
		Details:     details,
		FieldErrors: v.FieldErrors,
	}
	if v.Preview != "" {
		preview := v.Preview
		resp.RawOutputPreview = &preview
	}
	return resp
}

func (r *Rejection) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Response())
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

type Option func(*Router)

func WithSink(sink events.Sink) Option {
	return func(r *Router) {
		if sink != nil {
			r.sink = sink
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router gates every stage-to-stage handoff behind the contract validator.
// A payload that fails validation is never forwarded.
type Router struct {
	validator *contract.Validator
	sink      events.Sink
	log       *slog.Logger
	now       func() time.Time
}

func NewRouter(validator *contract.Validator, opts ...Option) *Router {
	r := &Router{
		validator: validator,
		sink:      events.Nop,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route validates raw for the edge from->to. It returns a *Rejection when the
// payload violates the edge contract.
func (r *Router) Route(ctx context.Context, from, to domain.Role, raw []byte) (*Delivery, error) {
	edge := domain.Edge{From: from, To: to}

	res, err := r.validator.Validate(from, to, raw)
	if err != nil {
		var cv *contract.ContractViolation
		if !errors.As(err, &cv) {
			return nil, fmt.Errorf("validate %s: %w", edge, err)
		}
		r.emit(ctx, events.HandoffRejected, events.LevelWarn, edge, map[string]any{
			"code":         string(cv.Code),
			"schema":       cv.Schema,
			"field_errors": len(cv.FieldErrors),
			"detail":       cv.Error(),
		})
		return nil, &Rejection{Edge: edge, Violation: cv}
	}

	d := &Delivery{
		ID:          uuid.NewString(),
		Edge:        edge,
		Schema:      res.Schema,
		Envelope:    res.Envelope,
		Payload:     res.Payload,
		Validated:   res.IsValidated(),
		BackEdge:    edge.IsBackEdge(),
		DeliveredAt: r.now(),
	}

	name := events.HandoffDelivered
	if !d.Validated {
		name = events.HandoffUnvalidated
		r.log.Debug("Routing unvalidated handoff", "edge", edge.String())
	}
	r.emit(ctx, name, events.LevelInfo, edge, map[string]any{
		"delivery_id": d.ID,
		"schema":      d.Schema,
		"back_edge":   d.BackEdge,
	})
	return d, nil
}

func (r *Router) emit(ctx context.Context, name string, level events.Level, edge domain.Edge, fields map[string]any) {
	fields["from"] = string(edge.From)
	fields["to"] = string(edge.To)
	r.sink.Emit(ctx, events.Event{
		Name:   name,
		Level:  level,
		RunID:  events.RunIDFrom(ctx),
		At:     r.now(),
		Fields: fields,
	})
}
