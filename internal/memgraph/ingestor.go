package memgraph

import (
	"regexp"
	"strings"
)

// serviceIndicators is the heuristic pattern that recognizes a token as a
// service name when it is followed by "on", "deployment", "service" or
// "app" at a word boundary. Matching a
// deterministic rule set (rather than an LLM call) keeps ingestion cheap
// and reproducible.
var serviceIndicators = regexp.MustCompile(`\b([a-z][a-z0-9_-]{1,30})\s+(?:on|deployment|service|app)\b`)
var serviceSuffix = regexp.MustCompile(`\b([a-z][a-z0-9_-]{1,30})\s+deployment\b`)
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,40})\b`)
var incidentPattern = regexp.MustCompile(`\bINC-\d+\b`)

var requiresVerbs = regexp.MustCompile(`(?i)\b(requires?|needs?|depends on)\b`)
var affectsVerbs = regexp.MustCompile(`(?i)\b(affects?|caused by|causes?|impact(?:s|ed)?)\b`)

// sentences splits text into naive sentence units for co-occurrence
// relation rules; good enough for the deterministic extraction this
// ingestor performs (no NLP dependency in this pack covers sentence
// segmentation, so a simple splitter matches the teacher's own
// lightweight-parsing style elsewhere in the codebase).
func sentences(text string) []string {
	raw := regexp.MustCompile(`[.\n]+`).Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IngestResult summarizes what one Ingest call created or touched.
type IngestResult struct {
	NodesCreated int
	EdgesCreated int
	Services     []string
	EnvVars      []string
	Incidents    []string
	Nodes        []*Node
	Edges        []*Edge
}

// Ingestor extracts candidate entities and relations from free text using
// deterministic rules, upserting them into a Graph.
type Ingestor struct {
	Source string
}

// NewIngestor builds an Ingestor tagging created nodes/edges with source.
func NewIngestor(source string) *Ingestor {
	if source == "" {
		source = "ingest"
	}
	return &Ingestor{Source: source}
}

// Ingest extracts services, env vars, and incidents from text, upserts
// them as nodes, then applies the relation rules (service-requires-envvar
// from a requires/needs/depends-on verb, incident-impacts-service from
// co-occurrence within the same sentence plus an affects/caused-by verb).
func (ig *Ingestor) Ingest(gr *Graph, text string, srcTag string, now SourceInfo) IngestResult {
	if srcTag == "" {
		srcTag = ig.Source
	}
	src := now
	src.Source = srcTag

	beforeNodes, beforeEdges := gr.NodeCount(), gr.EdgeCount()
	var result IngestResult

	for _, sent := range sentences(text) {
		services := extractServices(sent)
		envVars := extractEnvVars(sent)
		incidents := extractIncidents(sent)

		var serviceNodes []*Node
		for _, s := range services {
			n := gr.UpsertNode("svc:"+s, NodeService, map[string]any{"name": s}, src)
			serviceNodes = append(serviceNodes, n)
			result.Services = appendUnique(result.Services, s)
			result.Nodes = append(result.Nodes, n)
		}
		var envNodes []*Node
		for _, e := range envVars {
			n := gr.UpsertNode("env:"+e, NodeEnvVar, map[string]any{"key": e}, src)
			envNodes = append(envNodes, n)
			result.EnvVars = appendUnique(result.EnvVars, e)
			result.Nodes = append(result.Nodes, n)
		}
		var incNodes []*Node
		for _, i := range incidents {
			n := gr.UpsertNode("inc:"+i, NodeIncident, map[string]any{"id": i}, src)
			incNodes = append(incNodes, n)
			result.Incidents = appendUnique(result.Incidents, i)
			result.Nodes = append(result.Nodes, n)
		}

		if requiresVerbs.MatchString(sent) {
			for _, sn := range serviceNodes {
				for _, en := range envNodes {
					if e, err := gr.AddEdge(EdgeServiceRequiresEnvVar, sn.ID, en.ID, nil, src); err == nil {
						result.Edges = append(result.Edges, e)
					}
				}
			}
		}
		if affectsVerbs.MatchString(sent) {
			for _, in := range incNodes {
				for _, sn := range serviceNodes {
					if e, err := gr.AddEdge(EdgeIncidentImpactsService, in.ID, sn.ID, nil, src); err == nil {
						result.Edges = append(result.Edges, e)
					}
				}
			}
		}
	}

	result.NodesCreated = gr.NodeCount() - beforeNodes
	result.EdgesCreated = gr.EdgeCount() - beforeEdges
	return result
}

func extractServices(sent string) []string {
	var out []string
	for _, m := range serviceIndicators.FindAllStringSubmatch(sent, -1) {
		out = appendUnique(out, m[1])
	}
	for _, m := range serviceSuffix.FindAllStringSubmatch(sent, -1) {
		out = appendUnique(out, m[1])
	}
	return out
}

func extractEnvVars(sent string) []string {
	var out []string
	for _, loc := range envVarPattern.FindAllStringIndex(sent, -1) {
		m := sent[loc[0]:loc[1]]
		// Skip the "INC" in "INC-101": an ALL_CAPS token immediately
		// followed by "-<digit>" is an incident id prefix, not an envvar.
		if loc[1] < len(sent) && sent[loc[1]] == '-' && loc[1]+1 < len(sent) && sent[loc[1]+1] >= '0' && sent[loc[1]+1] <= '9' {
			continue
		}
		if strings.Contains(m, "_") || len(m) > 4 {
			out = appendUnique(out, m)
		}
	}
	return out
}

func extractIncidents(sent string) []string {
	return incidentPattern.FindAllString(sent, -1)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
