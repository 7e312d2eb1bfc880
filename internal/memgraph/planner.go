package memgraph

import (
	"fmt"
	"strings"

	"github.com/heavyforge/heavyforge/internal/errs"
)

// QueryType selects which planner algorithm answers a Query.
type QueryType string

const (
	QueryAuto             QueryType = "auto"
	QueryBlockingAnalysis QueryType = "blocking_analysis"
	QueryMissingEnvVars   QueryType = "missing_envvars"
	QueryImpactAnalysis   QueryType = "impact_analysis"
	QueryRelatedIncidents QueryType = "related_incidents"
)

// Evidence is one supporting fact behind a planner Answer.
type Evidence struct {
	Type        string
	Description string
	NodeIDs     []string
	EdgeRefs    []string
}

// Operation records one graph traversal performed while answering a
// query, for traceability.
type Operation struct {
	Op     string
	Detail string
}

// Answer is the planner's response to one Query.
type Answer struct {
	QueryType   QueryType
	Focus       string
	Text        string
	Evidence    []Evidence
	Operations  []Operation
}

// Planner answers blocking/impact/missing-dependency queries over a Graph
// via multi-hop traversal driven by the adjacency indexes.
type Planner struct {
	Graph *Graph
}

// NewPlanner builds a Planner over gr.
func NewPlanner(gr *Graph) *Planner {
	return &Planner{Graph: gr}
}

// detectQueryType infers a query type from keywords when the caller
// passes QueryAuto.
func detectQueryType(query string) QueryType {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "block") || strings.Contains(q, "rollout"):
		return QueryBlockingAnalysis
	case strings.Contains(q, "missing") || strings.Contains(q, "env"):
		return QueryMissingEnvVars
	case strings.Contains(q, "impact"):
		return QueryImpactAnalysis
	case strings.Contains(q, "related incident"):
		return QueryRelatedIncidents
	default:
		return QueryBlockingAnalysis
	}
}

// Query answers a natural-language or explicitly-tagged question about
// focus (a service or incident).
func (p *Planner) Query(queryType QueryType, query string, focus string) (Answer, error) {
	if queryType == QueryAuto || queryType == "" {
		queryType = detectQueryType(query)
	}
	switch queryType {
	case QueryBlockingAnalysis:
		return p.blockingAnalysis(focus)
	case QueryMissingEnvVars:
		return p.missingEnvVars(focus)
	case QueryImpactAnalysis:
		return p.impactAnalysis(focus)
	case QueryRelatedIncidents:
		return p.relatedIncidents()
	default:
		return Answer{}, errs.New(errs.Validation, "memgraph: unknown query type "+string(queryType))
	}
}

func serviceID(name string) string {
	if strings.HasPrefix(name, "svc:") {
		return name
	}
	return "svc:" + name
}

func incidentID(name string) string {
	if strings.HasPrefix(name, "inc:") {
		return name
	}
	return "inc:" + name
}

// blockingAnalysis implements spec §4.5: missing env vars for S, union
// unresolved incidents impacting S. An unknown service returns NOT_FOUND
// evidence and an empty blocking list, not an error (spec §8 boundary).
func (p *Planner) blockingAnalysis(serviceName string) (Answer, error) {
	sid := serviceID(serviceName)
	ans := Answer{QueryType: QueryBlockingAnalysis, Focus: sid}

	if _, ok := p.Graph.GetNode(sid); !ok {
		ans.Text = fmt.Sprintf("Service %s is not known to the graph.", serviceName)
		ans.Evidence = []Evidence{{Type: "not_found", Description: "unknown service " + serviceName}}
		ans.Operations = append(ans.Operations, Operation{Op: "get_node", Detail: sid + " -> not found"})
		return ans, nil
	}

	missing := p.missingEnvVarEdges(sid)
	ans.Operations = append(ans.Operations, Operation{Op: "outgoing", Detail: sid + " SERVICE_REQUIRES_ENVVAR"})

	var incidents []*Edge
	for _, e := range p.Graph.Incoming(sid, EdgeIncidentImpactsService) {
		incNode, _ := p.Graph.GetNode(e.From)
		if incNode != nil && isResolved(incNode) {
			continue
		}
		incidents = append(incidents, e)
	}
	ans.Operations = append(ans.Operations, Operation{Op: "incoming", Detail: sid + " INCIDENT_IMPACTS_SERVICE"})

	var evidence []Evidence
	for _, e := range missing {
		envNode, _ := p.Graph.GetNode(e.To)
		key := e.To
		if envNode != nil {
			if k, ok := envNode.Props["key"].(string); ok {
				key = k
			}
		}
		evidence = append(evidence, Evidence{
			Type:        "missing_envvar",
			Description: "missing environment variable " + key,
			NodeIDs:     []string{e.To},
		})
	}
	for _, e := range incidents {
		evidence = append(evidence, Evidence{
			Type:        "related_incident",
			Description: "unresolved incident " + strings.TrimPrefix(e.From, "inc:"),
			NodeIDs:     []string{e.From},
		})
	}
	ans.Evidence = evidence

	if len(evidence) == 0 {
		ans.Text = fmt.Sprintf("%s has no known blockers.", serviceName)
	} else {
		var parts []string
		for _, ev := range missing {
			envNode, _ := p.Graph.GetNode(ev.To)
			key := ev.To
			if envNode != nil {
				if k, ok := envNode.Props["key"].(string); ok {
					key = k
				}
			}
			parts = append(parts, "missing "+key)
		}
		for _, ie := range incidents {
			parts = append(parts, "incident "+strings.TrimPrefix(ie.From, "inc:"))
		}
		ans.Text = fmt.Sprintf("%s rollout is blocked by: %s.", serviceName, strings.Join(parts, ", "))
	}
	return ans, nil
}

func isResolved(n *Node) bool {
	v, ok := n.Props["resolved"].(bool)
	return ok && v
}

// missingEnvVarEdges returns SERVICE_REQUIRES_ENVVAR edges from sid whose
// target env-var node lacks a non-empty "value" property.
func (p *Planner) missingEnvVarEdges(sid string) []*Edge {
	var out []*Edge
	for _, e := range p.Graph.Outgoing(sid, EdgeServiceRequiresEnvVar) {
		envNode, ok := p.Graph.GetNode(e.To)
		if !ok {
			continue
		}
		v, _ := envNode.Props["value"].(string)
		if v == "" {
			out = append(out, e)
		}
	}
	return out
}

func (p *Planner) missingEnvVars(serviceName string) (Answer, error) {
	sid := serviceID(serviceName)
	ans := Answer{QueryType: QueryMissingEnvVars, Focus: sid}

	if _, ok := p.Graph.GetNode(sid); !ok {
		ans.Text = fmt.Sprintf("Service %s is not known to the graph.", serviceName)
		ans.Evidence = []Evidence{{Type: "not_found", Description: "unknown service " + serviceName}}
		return ans, nil
	}

	missing := p.missingEnvVarEdges(sid)
	ans.Operations = append(ans.Operations, Operation{Op: "outgoing", Detail: sid + " SERVICE_REQUIRES_ENVVAR"})

	var keys []string
	for _, e := range missing {
		envNode, _ := p.Graph.GetNode(e.To)
		key := e.To
		if envNode != nil {
			if k, ok := envNode.Props["key"].(string); ok {
				key = k
			}
		}
		keys = append(keys, key)
		ans.Evidence = append(ans.Evidence, Evidence{
			Type:        "missing_envvar",
			Description: "missing environment variable " + key,
			NodeIDs:     []string{e.To},
		})
	}

	if len(keys) == 0 {
		ans.Text = fmt.Sprintf("%s has no missing environment variables.", serviceName)
	} else {
		ans.Text = fmt.Sprintf("%s is missing: %s.", serviceName, strings.Join(keys, ", "))
	}
	return ans, nil
}

// impactAnalysis returns services reachable from incident I via
// INCIDENT_IMPACTS_SERVICE.
func (p *Planner) impactAnalysis(incidentName string) (Answer, error) {
	iid := incidentID(incidentName)
	ans := Answer{QueryType: QueryImpactAnalysis, Focus: iid}

	if _, ok := p.Graph.GetNode(iid); !ok {
		ans.Text = fmt.Sprintf("Incident %s is not known to the graph.", incidentName)
		ans.Evidence = []Evidence{{Type: "not_found", Description: "unknown incident " + incidentName}}
		return ans, nil
	}

	edges := p.Graph.Outgoing(iid, EdgeIncidentImpactsService)
	ans.Operations = append(ans.Operations, Operation{Op: "outgoing", Detail: iid + " INCIDENT_IMPACTS_SERVICE"})

	direct := map[string]bool{}
	var services []string
	for _, e := range edges {
		name := strings.TrimPrefix(e.To, "svc:")
		services = append(services, name)
		direct[e.To] = true
		ans.Evidence = append(ans.Evidence, Evidence{
			Type:        "impacted_service",
			Description: "impacts service " + name,
			NodeIDs:     []string{e.To},
		})
	}

	// Beyond the direct INCIDENT_IMPACTS_SERVICE edges, anything reachable
	// from the incident through any relation is a candidate for indirect
	// impact — e.g. a service that depends on an env var owned by a
	// directly-impacted service.
	if reachable, err := p.Graph.Reachable(iid); err == nil {
		ans.Operations = append(ans.Operations, Operation{Op: "reachable", Detail: iid + " any-edge transitive closure"})
		for _, id := range reachable {
			n, ok := p.Graph.GetNode(id)
			if !ok || n.Type != NodeService || direct[id] {
				continue
			}
			name := strings.TrimPrefix(id, "svc:")
			services = append(services, name)
			ans.Evidence = append(ans.Evidence, Evidence{
				Type:        "indirectly_impacted_service",
				Description: "transitively impacts service " + name,
				NodeIDs:     []string{id},
			})
		}
	}

	if len(services) == 0 {
		ans.Text = fmt.Sprintf("%s has no recorded service impact.", incidentName)
	} else {
		ans.Text = fmt.Sprintf("%s impacts: %s.", incidentName, strings.Join(services, ", "))
	}
	return ans, nil
}

// relatedIncidents collects, once each, the incidents with an
// INCIDENT_IMPACTS_SERVICE edge into every service for which
// blockingAnalysis reports at least one related_incident; services blocked
// only by other evidence are not included.
func (p *Planner) relatedIncidents() (Answer, error) {
	ans := Answer{QueryType: QueryRelatedIncidents}

	seen := map[string]bool{}
	var evidence []Evidence
	for _, n := range p.Graph.Nodes() {
		if n.Type != NodeService {
			continue
		}
		blocking, err := p.blockingAnalysis(strings.TrimPrefix(n.ID, "svc:"))
		if err != nil {
			return Answer{}, err
		}
		hasBlocker := false
		for _, ev := range blocking.Evidence {
			if ev.Type == "related_incident" {
				hasBlocker = true
			}
		}
		if !hasBlocker {
			continue
		}
		for _, e := range p.Graph.Incoming(n.ID, EdgeIncidentImpactsService) {
			if seen[e.From] {
				continue
			}
			seen[e.From] = true
			evidence = append(evidence, Evidence{
				Type:        "related_incident",
				Description: "incident impacting blocked service " + strings.TrimPrefix(n.ID, "svc:"),
				NodeIDs:     []string{e.From, n.ID},
			})
		}
	}
	ans.Evidence = evidence
	ans.Operations = append(ans.Operations, Operation{Op: "scan", Detail: "all services, blocking_analysis + incoming INCIDENT_IMPACTS_SERVICE"})

	if len(evidence) == 0 {
		ans.Text = "No related incidents found across currently blocking services."
	} else {
		var ids []string
		for _, e := range evidence {
			ids = append(ids, strings.TrimPrefix(e.NodeIDs[0], "inc:"))
		}
		ans.Text = "Related incidents: " + strings.Join(ids, ", ") + "."
	}
	return ans, nil
}
