// Package memgraph is the Memory Graph: a typed entity/relation store with
// an ingestor that extracts (service, envvar, incident) triples from free
// text and a planner that answers blocking/impact/missing-dependency
// queries via multi-hop traversal.
//
// Nodes live in a map keyed by canonical id; edges live in a slice; two
// adjacency indexes (outgoing and incoming, keyed by edge type) stay
// consistent with the edge set on every mutation — the (id,
// adjacency-index) shape the teacher's own registry packages use in place
// of pointer-cyclic graphs, generalized here to a typed relation store and
// backed by dominikbraun/graph for the underlying directed structure.
package memgraph

import "time"

// NodeType tags the kind of entity a node represents.
type NodeType string

const (
	NodeService    NodeType = "Service"
	NodeEnvVar     NodeType = "EnvVar"
	NodeIncident   NodeType = "Incident"
	NodeRoute      NodeType = "Route"
	NodePermission NodeType = "Permission"
	NodeFeature    NodeType = "Feature"
)

// EdgeType tags the kind of relation an edge represents.
type EdgeType string

const (
	EdgeServiceRequiresEnvVar  EdgeType = "SERVICE_REQUIRES_ENVVAR"
	EdgeIncidentImpactsService EdgeType = "INCIDENT_IMPACTS_SERVICE"
)

// Node is one entity in the graph. ID has the canonical form
// "type:key", e.g. "svc:crm7", "env:DB_URL", "inc:INC-101".
type Node struct {
	ID    string
	Type  NodeType
	Props map[string]any
}

// Edge is one directed relation between two existing nodes. At most one
// edge may exist per (Type, From, To) triple.
type Edge struct {
	Type  EdgeType
	From  string
	To    string
	Props map[string]any
}

// SourceInfo is attached as the "source_info" property to every node/edge
// a mutation creates or updates, for traceability back to ingestion.
type SourceInfo struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// sourceInfoProp renders a SourceInfo as the map value stored under the
// "source_info" property key.
func sourceInfoProp(si SourceInfo) map[string]any {
	return map[string]any{"source": si.Source, "timestamp": si.Timestamp}
}
