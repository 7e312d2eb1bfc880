package mil

import (
	"context"
	"strings"

	"github.com/heavyforge/heavyforge/internal/errs"
)

// Provider is the closed interface every vendor adapter implements. It
// replaces what a dynamic-dispatch "LLMProvider subclass" would do in a
// duck-typed language: a fixed contract, concrete structs per vendor, no
// inheritance.
type Provider interface {
	// Name returns the provider's registry key (e.g. "openai", "anthropic").
	Name() string

	// Models returns the model descriptors this provider exposes. Called
	// once at registry build time.
	Models() []ModelDescriptor

	// Generate issues one call against the named model. Implementations
	// must classify every failure into the errs taxonomy (never leak
	// vendor-specific error types) and, when the vendor omits token usage,
	// fall back to EstimateTokens on the prompt/response bytes.
	Generate(ctx context.Context, modelID string, req Request) (Response, error)

	// CostOf computes cost in USD for the given token counts against the
	// named model's descriptor.
	CostOf(inputTokens, outputTokens int, modelID string) float64
}

// Registry holds the immutable-after-startup set of registered providers
// and the flattened model descriptor list derived from them.
type Registry struct {
	providers map[string]Provider
	models    map[string]ModelDescriptor // keyed by "provider/model-id"
}

// NewRegistry builds a Registry from a set of providers, flattening their
// model descriptors. It returns an error if two providers declare the same
// model id or if a descriptor's ID does not match "provider/model-id".
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		models:    make(map[string]ModelDescriptor),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
		for _, d := range p.Models() {
			if !strings.HasPrefix(d.ID, p.Name()+"/") {
				return nil, errs.New(errs.Validation, "mil: model id "+d.ID+" does not match "+p.Name()+"/model-id")
			}
			if _, dup := r.models[d.ID]; dup {
				return nil, errs.New(errs.Validation, "mil: duplicate model id "+d.ID)
			}
			r.models[d.ID] = d
		}
	}
	return r, nil
}

// Provider returns the registered provider by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Model returns the descriptor for a fully-qualified "provider/model-id".
func (r *Registry) Model(id string) (ModelDescriptor, bool) {
	d, ok := r.models[id]
	return d, ok
}

// Models returns every registered descriptor.
func (r *Registry) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		out = append(out, d)
	}
	return out
}

// Filter returns descriptors matching pred.
func (r *Registry) Filter(pred func(ModelDescriptor) bool) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range r.models {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// HasDefaultTarget reports whether id names a registered model — used at
// startup to check the "every declared default-routing target exists in
// the registry" invariant.
func (r *Registry) HasDefaultTarget(id string) bool {
	_, ok := r.models[id]
	return ok
}

// UpdateObserved merges freshly observed latency/quality into the
// in-memory descriptor used for routing decisions. The registry's model
// list is otherwise immutable; this is the one mutation path, guarded so
// routing never reads a torn descriptor.
func (r *Registry) UpdateObserved(id string, latencyMS float64) {
	d, ok := r.models[id]
	if !ok {
		return
	}
	if d.ObservedLatencyMS == 0 {
		d.ObservedLatencyMS = latencyMS
	} else {
		d.ObservedLatencyMS = d.ObservedLatencyMS*0.8 + latencyMS*0.2
	}
	r.models[id] = d
}
