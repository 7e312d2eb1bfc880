package mil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/errs"
	"github.com/heavyforge/heavyforge/internal/mil"
)

func descriptors() []mil.ModelDescriptor {
	return []mil.ModelDescriptor{
		{
			ID: "openai/a-cheap", Provider: "openai", ModelID: "a-cheap",
			ContextWindow: 100000, InputCostPerMillion: 0.1, OutputCostPerMillion: 0.1,
			QualityScore: 0.6, Capabilities: map[mil.Capability]bool{mil.CapTextGeneration: true},
		},
		{
			ID: "openai/b-fast", Provider: "openai", ModelID: "b-fast",
			ContextWindow: 100000, InputCostPerMillion: 0.5, OutputCostPerMillion: 0.5,
			ObservedLatencyMS: 100, QualityScore: 0.6,
			Capabilities: map[mil.Capability]bool{mil.CapTextGeneration: true},
		},
		{
			ID: "anthropic/c-best", Provider: "anthropic", ModelID: "c-best",
			ContextWindow: 100000, InputCostPerMillion: 1.0, OutputCostPerMillion: 1.0,
			ObservedLatencyMS: 400, QualityScore: 0.95,
			Capabilities: map[mil.Capability]bool{mil.CapTextGeneration: true},
		},
	}
}

type fakeProvider struct {
	name   string
	models []mil.ModelDescriptor
}

func (f fakeProvider) Name() string                   { return f.name }
func (f fakeProvider) Models() []mil.ModelDescriptor   { return f.models }
func (f fakeProvider) CostOf(in, out int, id string) float64 { return 0 }
func (f fakeProvider) Generate(ctx context.Context, modelID string, req mil.Request) (mil.Response, error) {
	return mil.Response{Content: "ok", ModelUsed: modelID}, nil
}

func byProvider(all []mil.ModelDescriptor, name string) []mil.ModelDescriptor {
	var out []mil.ModelDescriptor
	for _, d := range all {
		if d.Provider == name {
			out = append(out, d)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) *mil.Registry {
	t.Helper()
	all := descriptors()
	oa := fakeProvider{name: "openai", models: byProvider(all, "openai")}
	an := fakeProvider{name: "anthropic", models: byProvider(all, "anthropic")}
	reg, err := mil.NewRegistry(oa, an)
	require.NoError(t, err)
	return reg
}

func TestRecommendModel_BestQualityWinsWithNoPreference(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	id, err := gw.RecommendModel(mil.Requirements{MaxTokens: 100}, mil.RoutingPolicy{WeightQuality: 1})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/c-best", id)
}

func TestRecommendModel_PreferenceOnlyBreaksTies(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	// a-cheap and b-fast share the same quality score and w_cost=w_latency=0,
	// so both tie with each other (and lose outright to c-best on pure
	// quality) -- prefer_provider cannot lift them above c-best.
	id, err := gw.RecommendModel(mil.Requirements{MaxTokens: 100}, mil.RoutingPolicy{
		WeightQuality:  1,
		PreferProvider: "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/c-best", id, "preference must never override a strictly better rival")
}

func TestRecommendModel_NoEligibleModelIsCapacityError(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	_, err := gw.RecommendModel(mil.Requirements{
		Capabilities: []mil.Capability{mil.CapEmbedding},
		MaxTokens:    100,
	}, mil.RoutingPolicy{})
	require.Error(t, err)
	assert.Equal(t, errs.Capacity, errs.KindOf(err))
}

func TestRecommendModel_ContextWindowFiltersOut(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	_, err := gw.RecommendModel(mil.Requirements{
		EstimatedPromptTokens: 99000,
		MaxTokens:             50000,
	}, mil.RoutingPolicy{WeightQuality: 1})
	require.Error(t, err)
}

func TestGenerate_DispatchesToRoutedProvider(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	resp, err := gw.Generate(context.Background(), mil.Request{
		Prompt:      "hello",
		MaxTokens:   10,
		Policy:      &mil.RoutingPolicy{WeightQuality: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/c-best", resp.ModelUsed)
	assert.Equal(t, "anthropic", resp.Provider)
}

func TestGenerate_PinnedModelSkipsRouting(t *testing.T) {
	reg := newTestRegistry(t)
	gw := mil.NewGateway(reg, nil, nil, nil)

	resp, err := gw.Generate(context.Background(), mil.Request{
		Prompt:  "hello",
		ModelID: "openai/a-cheap",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai/a-cheap", resp.ModelUsed)
}

func TestEstimateTokens_CeilsBytesOverFour(t *testing.T) {
	assert.Equal(t, 0, mil.EstimateTokens(""))
	assert.Equal(t, 1, mil.EstimateTokens("abcd"))
	assert.Equal(t, 2, mil.EstimateTokens("abcde"))
	assert.Equal(t, 3, mil.EstimateTokens("123456789"))
}
