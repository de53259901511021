package contract

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vietddude/artline/internal/core/domain"
)

// Schema is a compiled contract for one edge.
type Schema struct {
	Name     string
	Document map[string]any

	compiled *jsonschema.Schema
	decode   func([]byte) (Envelope, error)
}

// newSchema compiles doc and binds it to the envelope type T.
func newSchema[T any, P interface {
	*T
	Envelope
}](name string, doc map[string]any) (*Schema, error) {
	compiled, err := compileSchema(name, doc)
	if err != nil {
		return nil, err
	}
	return &Schema{
		Name:     name,
		Document: doc,
		compiled: compiled,
		decode: func(b []byte) (Envelope, error) {
			var v T
			dec := json.NewDecoder(bytes.NewReader(b))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			return P(&v), nil
		},
	}, nil
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return compiled, nil
}

// Registry maps edges to the schema their payloads must satisfy.
// Edges without a schema are routed unvalidated.
type Registry struct {
	mu      sync.RWMutex
	schemas map[domain.Edge]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[domain.Edge]*Schema)}
}

// Register binds s to the edge from->to, replacing any previous binding.
func (r *Registry) Register(from, to domain.Role, s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[domain.Edge{From: from, To: to}] = s
}

func (r *Registry) Lookup(from, to domain.Role) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[domain.Edge{From: from, To: to}]
	return s, ok
}

// Edges returns the registered edges sorted by sender then recipient.
func (r *Registry) Edges() []domain.Edge {
	r.mu.RLock()
	edges := make([]domain.Edge, 0, len(r.schemas))
	for e := range r.schemas {
		edges = append(edges, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(edges, func(a, b domain.Edge) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	return edges
}

type builtinSchemas struct {
	brief, prompt, image, qa, delivery *Schema
}

var loadBuiltins = sync.OnceValues(func() (*builtinSchemas, error) {
	var (
		b   builtinSchemas
		err error
	)
	if b.brief, err = newSchema[BriefEnvelope](SchemaBrief, BriefSchema()); err != nil {
		return nil, err
	}
	if b.prompt, err = newSchema[PromptEnvelope](SchemaPrompt, PromptSchema()); err != nil {
		return nil, err
	}
	if b.image, err = newSchema[ImageEnvelope](SchemaImage, ImageSchema()); err != nil {
		return nil, err
	}
	if b.qa, err = newSchema[QAEnvelope](SchemaQA, QASchema()); err != nil {
		return nil, err
	}
	if b.delivery, err = newSchema[DeliveryEnvelope](SchemaDelivery, DeliverySchema()); err != nil {
		return nil, err
	}
	return &b, nil
})

// DefaultRegistry returns a registry holding the pipeline's edges. The schemas
// are compiled once per process; each call returns a fresh registry.
func DefaultRegistry() (*Registry, error) {
	b, err := loadBuiltins()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	r.Register(domain.RoleBrief, domain.RoleArtDirection, b.brief)
	r.Register(domain.RoleArtDirection, domain.RoleImage, b.prompt)
	r.Register(domain.RoleImage, domain.RoleQA, b.image)
	r.Register(domain.RoleQA, domain.RoleExport, b.qa)
	r.Register(domain.RoleQA, domain.RoleImage, b.qa)
	r.Register(domain.RoleQA, domain.RoleArtDirection, b.qa)
	r.Register(domain.RoleExport, domain.RoleOrchestrator, b.delivery)
	return r, nil
}
