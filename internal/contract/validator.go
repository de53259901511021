package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vietddude/artline/internal/core/domain"
)

// Validated is the outcome of checking a payload on one edge.
type Validated struct {
	Edge   domain.Edge
	Schema string
	// Envelope is nil when the edge has no registered schema.
	Envelope Envelope
	// Payload is the normalized JSON, or the raw input when unvalidated.
	Payload []byte
}

// IsValidated reports whether a schema was applied.
func (v *Validated) IsValidated() bool {
	return v.Envelope != nil
}

// As returns the typed envelope carried by v.
func As[T Envelope](v *Validated) (T, bool) {
	t, ok := v.Envelope.(T)
	return t, ok
}

type ValidatorOption func(*Validator)

// WithDefaults overrides the normalization defaults. Empty fields keep the stock value.
func WithDefaults(d Defaults) ValidatorOption {
	return func(v *Validator) {
		v.defaults = d.withFallbacks()
	}
}

func WithPreviewLimit(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.previewLimit = n
		}
	}
}

// Validator checks handoff payloads against the registry and normalizes them.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	registry     *Registry
	defaults     Defaults
	previewLimit int
}

func NewValidator(registry *Registry, opts ...ValidatorOption) *Validator {
	v := &Validator{
		registry:     registry,
		defaults:     DefaultDefaults(),
		previewLimit: DefaultPreviewLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Defaults() Defaults {
	return v.defaults
}

// Validate checks raw as the payload sent from one stage to another. A
// non-nil error is always a *ContractViolation.
func (v *Validator) Validate(from, to domain.Role, raw []byte) (*Validated, error) {
	edge := domain.Edge{From: from, To: to}
	schema, ok := v.registry.Lookup(from, to)
	if !ok {
		return &Validated{Edge: edge, Payload: raw}, nil
	}

	violation := func(code ViolationCode, detail string, fields []FieldError) *ContractViolation {
		return &ContractViolation{
			Code:        code,
			Sender:      from,
			Recipient:   to,
			Schema:      schema.Name,
			Detail:      detail,
			FieldErrors: fields,
			Preview:     Preview(raw, v.previewLimit),
		}
	}

	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return nil, violation(CodeNonParseable, "empty payload", nil)
	}
	if !json.Valid(body) {
		return nil, violation(CodeNonParseable, "payload is not valid JSON", nil)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, violation(CodeNonParseable, err.Error(), nil)
	}

	if err := schema.compiled.Validate(doc); err != nil {
		return nil, violation(CodeSchemaMismatch, "", fieldErrors(err))
	}

	env, err := schema.decode(body)
	if err != nil {
		return nil, violation(CodeSchemaMismatch, err.Error(), nil)
	}
	if errs := env.check(); len(errs) > 0 {
		return nil, violation(CodeSchemaMismatch, "", errs)
	}

	env.normalize(v.defaults)
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized %s: %w", schema.Name, err)
	}

	return &Validated{Edge: edge, Schema: schema.Name, Envelope: env, Payload: payload}, nil
}

func fieldErrors(err error) []FieldError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Message: err.Error()}}
	}
	var out []FieldError
	collectLeaves(ve, &out)
	slices.SortStableFunc(out, func(a, b FieldError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]FieldError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, leafErrors(ve)...)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

// leafErrors splits multi-property messages so each field is reported on its own.
func leafErrors(ve *jsonschema.ValidationError) []FieldError {
	base := pointerToPath(ve.InstanceLocation)

	var names, msg string
	if rest, ok := strings.CutPrefix(ve.Message, "missing properties: "); ok {
		names, msg = rest, "required"
	} else if rest, ok := strings.CutPrefix(ve.Message, "additionalProperties "); ok {
		names, msg = strings.TrimSuffix(rest, " not allowed"), "not allowed"
	} else {
		return []FieldError{{Field: base, Message: ve.Message}}
	}

	var out []FieldError
	for _, name := range strings.Split(names, ", ") {
		name = strings.Trim(name, "'")
		if name == "" {
			continue
		}
		out = append(out, FieldError{Field: joinPath(base, name), Message: msg})
	}
	return out
}

// pointerToPath turns "/validation/issues/0" into "validation.issues.0".
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
