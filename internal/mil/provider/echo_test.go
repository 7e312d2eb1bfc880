package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/mil"
	"github.com/heavyforge/heavyforge/internal/mil/provider"
)

func TestEcho_GenerateIsDeterministic(t *testing.T) {
	e := provider.NewEcho()
	req := mil.Request{Prompt: "what is the capital of France"}

	r1, err := e.Generate(context.Background(), "echo-fast", req)
	require.NoError(t, err)
	r2, err := e.Generate(context.Background(), "echo-fast", req)
	require.NoError(t, err)

	assert.Equal(t, r1.Content, r2.Content)
	assert.Contains(t, r1.Content, "capital of France")
	assert.Equal(t, "echo", r1.Provider)
}

func TestEcho_CostIsAlwaysZero(t *testing.T) {
	e := provider.NewEcho()
	assert.Equal(t, float64(0), e.CostOf(1000, 1000, "echo-fast"))
}

func TestEcho_ModelsDeclareDistinctCapabilities(t *testing.T) {
	e := provider.NewEcho()
	models := e.Models()
	require.Len(t, models, 2)

	var reasoning, fast mil.ModelDescriptor
	for _, m := range models {
		if m.IsReasoning {
			reasoning = m
		} else {
			fast = m
		}
	}
	assert.True(t, reasoning.HasCapabilities([]mil.Capability{mil.CapReasoning}))
	assert.False(t, fast.HasCapabilities([]mil.Capability{mil.CapReasoning}))
}
