package heavy_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/heavy"
	"github.com/heavyforge/heavyforge/internal/mil"
	"github.com/heavyforge/heavyforge/internal/mil/provider"
)

func newTestGateway(t *testing.T) *mil.Gateway {
	t.Helper()
	reg, err := mil.NewRegistry(provider.NewEcho())
	require.NoError(t, err)
	return mil.NewGateway(reg, nil, nil, nil)
}

func TestProgress_AllWorkersStartQueued(t *testing.T) {
	p := heavy.NewProgress(4)
	for _, s := range p.Snapshot() {
		assert.Equal(t, heavy.WorkerQueued, s)
	}
}

func TestProgress_UpdateRecordsTerminalState(t *testing.T) {
	p := heavy.NewProgress(2)
	p.Update(0, heavy.WorkerProcessing, "dispatching")
	p.Update(1, heavy.WorkerCompleted, "done")
	p.SetResult(1, "agent 1 result")

	snap := p.Snapshot()
	assert.Equal(t, heavy.WorkerProcessing, snap[0])
	assert.Equal(t, heavy.WorkerCompleted, snap[1])
	assert.GreaterOrEqual(t, len(p.Log()), 2)
}

func TestProgress_ElapsedIsNonNegative(t *testing.T) {
	p := heavy.NewProgress(1)
	assert.GreaterOrEqual(t, p.Elapsed().Seconds(), 0.0)
}

func TestOrchestrator_DecomposeFallbackContainsQueryAndVariants(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{NumAgents: 4})

	// The echo provider always succeeds, but its echoed content won't
	// produce >= n non-empty lines for a short query, so Decompose should
	// still fall back to the deterministic perspectives.
	subs, err := o.Decompose(context.Background(), "Test query", 4)
	require.NoError(t, err)
	require.Len(t, subs, 4)

	var hasResearch, hasAnalyze bool
	for _, s := range subs {
		assert.Contains(t, s, "Test query")
		if strings.Contains(s, "Research") {
			hasResearch = true
		}
		if strings.Contains(s, "Analyze") {
			hasAnalyze = true
		}
	}
	assert.True(t, hasResearch, "expected at least one 'Research' perspective")
	assert.True(t, hasAnalyze, "expected at least one 'Analyze' perspective")
}

func TestOrchestrator_RunSynthesizesAcrossWorkers(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{NumAgents: 3})

	synthesis, results, err := o.Run(context.Background(), "What is Go?")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "success", r.Status)
	}
	assert.NotEmpty(t, synthesis)
}

func TestOrchestrator_AggregateSingleSuccessIsVerbatim(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{NumAgents: 1})

	synthesis, results, err := o.Run(context.Background(), "Single perspective query")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, results[0].Response, synthesis)
}
