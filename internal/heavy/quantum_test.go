package heavy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/heavy"
	"github.com/heavyforge/heavyforge/internal/mil"
)

func twoVariationTask(strategy heavy.CollapseStrategy) heavy.QuantumTask {
	return heavy.QuantumTask{
		Name:             "classify-outage",
		TaskDescription:  "Summarize the outage root cause for service crm7.",
		CollapseStrategy: strategy,
		Variations: []heavy.Variation{
			{Name: "researcher", AgentRole: "researcher", Weight: 1},
			{Name: "analyst", AgentRole: "analyst", Weight: 2},
		},
	}
}

func TestRunQuantum_RejectsEmptyVariations(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	_, _, err := o.RunQuantum(context.Background(), heavy.QuantumTask{Name: "empty"})
	assert.Error(t, err)
}

func TestRunQuantum_OneThreadPerVariation(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	_, threads, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseBestScore))
	require.NoError(t, err)
	require.Len(t, threads, 2)

	names := map[string]bool{}
	for _, th := range threads {
		names[th.VariationName] = true
		assert.Equal(t, heavy.ThreadCompleted, th.Status)
		assert.NotEmpty(t, th.Response)
		require.NotNil(t, th.Metrics)
		assert.Contains(t, th.Metrics, "success_rate")
		assert.Equal(t, 1.0, th.Metrics["success_rate"])
	}
	assert.True(t, names["researcher"])
	assert.True(t, names["analyst"])
}

func TestRunQuantum_BestScoreCollapsesToAHighestScoredThread(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	collapsed, threads, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseBestScore))
	require.NoError(t, err)
	assert.Equal(t, heavy.CollapseBestScore, collapsed.Strategy)

	var best heavy.ThreadResult
	for _, th := range threads {
		if th.TotalScore > best.TotalScore {
			best = th
		}
	}
	assert.Equal(t, best.VariationName, collapsed.Winner)
	assert.Equal(t, best.Response, collapsed.Response)
}

func TestRunQuantum_WeightedFavorsHeavierVariationOnTie(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	collapsed, _, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseWeighted))
	require.NoError(t, err)

	// Both variations run the same task through the echo provider, so their
	// metric scores differ by little (execution time can still vary); the
	// weighted strategy scales each score by the declared Weight
	// ("analyst": 2 vs 1), which puts the analyst ahead.
	assert.Equal(t, "analyst", collapsed.Winner)
}

func TestRunQuantum_ConsensusGroupsIdenticalResponses(t *testing.T) {
	task := heavy.QuantumTask{
		Name:             "consensus-check",
		TaskDescription:  "What language is this service written in?",
		CollapseStrategy: heavy.CollapseConsensus,
		Variations: []heavy.Variation{
			{Name: "a", ModelOverride: "echo/echo-fast", Weight: 1},
			{Name: "b", ModelOverride: "echo/echo-fast", Weight: 1},
			{Name: "c", ModelOverride: "echo/echo-reasoning", Weight: 3},
		},
	}
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	collapsed, threads, err := o.RunQuantum(context.Background(), task)
	require.NoError(t, err)

	// "a" and "b" pin the same model and therefore produce byte-identical
	// echo responses; their combined weight (2) still loses to "c" alone
	// (weight 3) since consensus groups by response text, not thread count.
	var cResp string
	for _, th := range threads {
		if th.VariationName == "c" {
			cResp = th.Response
		}
	}
	assert.Equal(t, cResp, collapsed.Response)
}

func TestRunQuantum_CombinedCallsSynthesisWhenMultipleSucceed(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	collapsed, _, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseCombined))
	require.NoError(t, err)
	assert.Equal(t, heavy.CollapseCombined, collapsed.Strategy)
	assert.NotEmpty(t, collapsed.Response)
}

func TestRunQuantum_FirstSuccessReturnsACompletedThread(t *testing.T) {
	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	collapsed, threads, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseFirstSuccess))
	require.NoError(t, err)
	assert.Equal(t, heavy.CollapseFirstSuccess, collapsed.Strategy)

	found := false
	for _, th := range threads {
		if th.VariationName == collapsed.Winner {
			assert.Equal(t, th.Response, collapsed.Response)
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunQuantum_AllThreadsFailProducesDeterministicSummary(t *testing.T) {
	reg, err := mil.NewRegistry()
	require.NoError(t, err)
	gw := mil.NewGateway(reg, nil, nil, nil)
	o := heavy.NewOrchestrator(gw, heavy.Orchestrator{})

	collapsed, threads, err := o.RunQuantum(context.Background(), twoVariationTask(heavy.CollapseBestScore))
	require.NoError(t, err)
	for _, th := range threads {
		assert.Equal(t, heavy.ThreadFailed, th.Status)
	}
	assert.Equal(t, "all quantum threads failed", collapsed.Response)
}

func TestRunQuantum_RespectsMaxParallelBound(t *testing.T) {
	task := twoVariationTask(heavy.CollapseBestScore)
	task.Variations = append(task.Variations, heavy.Variation{Name: "writer", Weight: 1})
	task.MaxParallel = 1

	o := heavy.NewOrchestrator(newTestGateway(t), heavy.Orchestrator{})
	_, threads, err := o.RunQuantum(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, threads, 3)
	for _, th := range threads {
		assert.Equal(t, heavy.ThreadCompleted, th.Status)
	}
}
