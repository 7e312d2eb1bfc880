// Package provider holds concrete mil.Provider implementations: real vendor
// adapters (openai, anthropic) and a deterministic in-memory double used for
// offline tests and as the Heavy-Analysis decomposition fallback when no
// vendor key is configured.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/mil"
)

// Echo is a deterministic, network-free Provider. It never fails and never
// blocks, making it the default provider registered when the process has no
// vendor credentials configured, and the provider of choice in unit tests
// for every package that depends on mil.Provider.
type Echo struct {
	Clock clock.Clock
}

// NewEcho returns an Echo provider using the real clock.
func NewEcho() *Echo {
	return &Echo{Clock: clock.System}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Models() []mil.ModelDescriptor {
	return []mil.ModelDescriptor{
		{
			ID:                   "echo/echo-fast",
			Provider:             "echo",
			ModelID:              "echo-fast",
			Capabilities:         map[mil.Capability]bool{mil.CapTextGeneration: true, mil.CapFunctionCalling: true},
			ContextWindow:        32000,
			InputCostPerMillion:  0,
			OutputCostPerMillion: 0,
			QualityScore:         0.5,
		},
		{
			ID:       "echo/echo-reasoning",
			Provider: "echo",
			ModelID:  "echo-reasoning",
			Capabilities: map[mil.Capability]bool{
				mil.CapTextGeneration: true,
				mil.CapReasoning:      true,
				mil.CapLongContext:    true,
			},
			ContextWindow:        128000,
			InputCostPerMillion:  0,
			OutputCostPerMillion: 0,
			QualityScore:         0.7,
			IsReasoning:          true,
		},
	}
}

// Generate echoes back a deterministic transformation of the input so
// callers exercising decomposition/synthesis logic get stable, inspectable
// output without a live model.
func (e *Echo) Generate(ctx context.Context, modelID string, req mil.Request) (mil.Response, error) {
	start := e.Clock.Now()

	prompt := req.Prompt
	if len(req.Messages) > 0 {
		parts := make([]string, 0, len(req.Messages))
		for _, m := range req.Messages {
			parts = append(parts, m.Content)
		}
		prompt = strings.Join(parts, "\n")
	}

	content := fmt.Sprintf("[echo:%s] %s", modelID, strings.TrimSpace(prompt))

	inTok := mil.EstimateTokens(prompt)
	outTok := mil.EstimateTokens(content)

	select {
	case <-ctx.Done():
		return mil.Response{}, ctx.Err()
	default:
	}

	elapsed := e.Clock.Now().Sub(start)
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}

	return mil.Response{
		Content:      content,
		ModelUsed:    modelID,
		Provider:     "echo",
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      0,
		LatencyMS:    float64(elapsed.Microseconds()) / 1000.0,
		FinishReason: "stop",
	}, nil
}

func (e *Echo) CostOf(inputTokens, outputTokens int, modelID string) float64 {
	return 0
}
