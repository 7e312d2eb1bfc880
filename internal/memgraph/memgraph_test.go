package memgraph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/memgraph"
)

func testSrc() memgraph.SourceInfo {
	return memgraph.SourceInfo{Source: "test", Timestamp: time.Unix(0, 0)}
}

func TestGraph_AddEdgeRejectsMissingEndpoints(t *testing.T) {
	gr := memgraph.New()
	gr.UpsertNode("svc:a", memgraph.NodeService, nil, testSrc())
	_, err := gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:MISSING", nil, testSrc())
	require.Error(t, err)
}

func TestGraph_AtMostOneEdgePerTriple(t *testing.T) {
	gr := memgraph.New()
	gr.UpsertNode("svc:a", memgraph.NodeService, nil, testSrc())
	gr.UpsertNode("env:X", memgraph.NodeEnvVar, nil, testSrc())

	_, err := gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:X", map[string]any{"note": "first"}, testSrc())
	require.NoError(t, err)
	_, err = gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:X", map[string]any{"note": "second"}, testSrc())
	require.NoError(t, err)

	assert.Equal(t, 1, gr.EdgeCount())
	edges := gr.Outgoing("svc:a", memgraph.EdgeServiceRequiresEnvVar)
	require.Len(t, edges, 1)
	assert.Equal(t, "second", edges[0].Props["note"])
}

func TestGraph_AdjacencyIndexesConsistentWithEdgeSet(t *testing.T) {
	gr := memgraph.New()
	gr.UpsertNode("svc:a", memgraph.NodeService, nil, testSrc())
	gr.UpsertNode("env:X", memgraph.NodeEnvVar, nil, testSrc())
	gr.UpsertNode("env:Y", memgraph.NodeEnvVar, nil, testSrc())

	_, err := gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:X", nil, testSrc())
	require.NoError(t, err)
	_, err = gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:Y", nil, testSrc())
	require.NoError(t, err)

	assert.Len(t, gr.Outgoing("svc:a", memgraph.EdgeServiceRequiresEnvVar), 2)
	assert.Len(t, gr.Incoming("env:X", memgraph.EdgeServiceRequiresEnvVar), 1)
	assert.Equal(t, 2, gr.EdgeCount())
}

func TestGraph_ToDictFromDictRoundTrip(t *testing.T) {
	gr := memgraph.New()
	gr.UpsertNode("svc:a", memgraph.NodeService, map[string]any{"name": "a"}, testSrc())
	gr.UpsertNode("env:X", memgraph.NodeEnvVar, map[string]any{"key": "X"}, testSrc())
	_, err := gr.AddEdge(memgraph.EdgeServiceRequiresEnvVar, "svc:a", "env:X", nil, testSrc())
	require.NoError(t, err)

	nodes, edges := gr.ToDict()
	rebuilt, err := memgraph.FromDict(nodes, edges)
	require.NoError(t, err)

	assert.Equal(t, gr.NodeCount(), rebuilt.NodeCount())
	assert.Equal(t, gr.EdgeCount(), rebuilt.EdgeCount())
	n, ok := rebuilt.GetNode("svc:a")
	require.True(t, ok)
	assert.Equal(t, "a", n.Props["name"])
}

func TestIngestor_BlockingAnalysisSeedScenario(t *testing.T) {
	gr := memgraph.New()
	ing := memgraph.NewIngestor("chat")
	now := testSrc()

	ing.Ingest(gr, "crm7 on Vercel requires SUPABASE_URL, SUPABASE_ANON_KEY", "chat", now)
	ing.Ingest(gr, "Incident INC-101 caused by missing SUPABASE_URL affects crm7 deployment", "chat", now)

	planner := memgraph.NewPlanner(gr)
	ans, err := planner.Query(memgraph.QueryBlockingAnalysis, "What's blocking crm7 rollout?", "crm7")
	require.NoError(t, err)

	var haveEnvVar, haveIncident bool
	for _, ev := range ans.Evidence {
		if ev.Type == "missing_envvar" && ev.NodeIDs[0] == "env:SUPABASE_URL" {
			haveEnvVar = true
		}
		if ev.Type == "related_incident" && ev.NodeIDs[0] == "inc:INC-101" {
			haveIncident = true
		}
	}
	assert.True(t, haveEnvVar, "expected missing_envvar evidence for SUPABASE_URL, got %+v", ans.Evidence)
	assert.True(t, haveIncident, "expected related_incident evidence for INC-101, got %+v", ans.Evidence)
	assert.Contains(t, ans.Text, "SUPABASE_URL")
	assert.Contains(t, ans.Text, "INC-101")
}

func TestPlanner_UnknownServiceIsNotFoundNotError(t *testing.T) {
	gr := memgraph.New()
	planner := memgraph.NewPlanner(gr)
	ans, err := planner.Query(memgraph.QueryBlockingAnalysis, "blocking", "ghost-service")
	require.NoError(t, err)
	require.Len(t, ans.Evidence, 1)
	assert.Equal(t, "not_found", ans.Evidence[0].Type)
}

func TestPlanner_ImpactAnalysis(t *testing.T) {
	gr := memgraph.New()
	now := testSrc()
	gr.UpsertNode("inc:INC-1", memgraph.NodeIncident, nil, now)
	gr.UpsertNode("svc:a", memgraph.NodeService, nil, now)
	gr.UpsertNode("svc:b", memgraph.NodeService, nil, now)
	_, _ = gr.AddEdge(memgraph.EdgeIncidentImpactsService, "inc:INC-1", "svc:a", nil, now)
	_, _ = gr.AddEdge(memgraph.EdgeIncidentImpactsService, "inc:INC-1", "svc:b", nil, now)

	planner := memgraph.NewPlanner(gr)
	ans, err := planner.Query(memgraph.QueryImpactAnalysis, "impact of INC-1", "INC-1")
	require.NoError(t, err)
	assert.Len(t, ans.Evidence, 2)
}
