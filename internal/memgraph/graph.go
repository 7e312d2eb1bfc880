package memgraph

import (
	"sync"

	dgraph "github.com/dominikbraun/graph"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/errs"
)

// Graph is one session's typed entity/relation store. Mutations are
// serialized per instance; reads observe a consistent snapshot taken at
// read start. Cross-session access goes through a persistence layer
// (outside this package's scope) that performs copy-in/copy-out.
type Graph struct {
	mu    sync.RWMutex
	clock clock.Clock

	nodes map[string]*Node
	edges []*Edge

	// g is the underlying directed graph over canonical node ids, collapsed
	// across edge types. AddVertex/AddEdge validate no duplicate vertices
	// and that endpoints exist before an edge is added, mirroring the
	// invariant this package enforces at the typed layer too. The hand-
	// rolled outByID/inByID indexes answer "direct neighbors of one edge
	// type" in O(deg); g.AdjacencyMap backs Reachable, the multi-hop,
	// any-edge-type traversal those indexes can't answer directly.
	g dgraph.Graph[string, string]

	// outgoing/incoming are declared but never populated; per-node edge
	// lookups go through outByID/inByID.
	outgoing map[NodeType]map[EdgeType]map[string][]*Edge
	incoming map[NodeType]map[EdgeType]map[string][]*Edge
	outByID  map[string]map[EdgeType][]*Edge
	inByID   map[string]map[EdgeType][]*Edge
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{
		clock:    clock.System,
		nodes:    make(map[string]*Node),
		g:        dgraph.New(dgraph.StringHash, dgraph.Directed()),
		outByID:  make(map[string]map[EdgeType][]*Edge),
		inByID:   make(map[string]map[EdgeType][]*Edge),
	}
}

// UpsertNode creates node id if absent, or merges props into it if
// present. The source_info property is always refreshed to the current
// mutation.
func (gr *Graph) UpsertNode(id string, typ NodeType, props map[string]any, src SourceInfo) *Node {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	return gr.upsertNodeLocked(id, typ, props, src)
}

func (gr *Graph) upsertNodeLocked(id string, typ NodeType, props map[string]any, src SourceInfo) *Node {
	n, ok := gr.nodes[id]
	if !ok {
		n = &Node{ID: id, Type: typ, Props: map[string]any{}}
		gr.nodes[id] = n
		_ = gr.g.AddVertex(id)
	}
	for k, v := range props {
		n.Props[k] = v
	}
	if _, ok := props["source_info"]; !ok {
		n.Props["source_info"] = sourceInfoProp(src)
	}
	return n
}

// GetNode returns node id, if it exists.
func (gr *Graph) GetNode(id string) (*Node, bool) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	n, ok := gr.nodes[id]
	return n, ok
}

// AddEdge creates a new edge of the given type between two existing
// nodes, or merges props into the existing edge if one of the same
// (type, from, to) already exists. Returns NOT_FOUND if either endpoint
// is missing.
func (gr *Graph) AddEdge(typ EdgeType, from, to string, props map[string]any, src SourceInfo) (*Edge, error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	return gr.addEdgeLocked(typ, from, to, props, src)
}

func (gr *Graph) addEdgeLocked(typ EdgeType, from, to string, props map[string]any, src SourceInfo) (*Edge, error) {
	if _, ok := gr.nodes[from]; !ok {
		return nil, errs.New(errs.NotFound, "memgraph: edge source "+from+" does not exist")
	}
	if _, ok := gr.nodes[to]; !ok {
		return nil, errs.New(errs.NotFound, "memgraph: edge target "+to+" does not exist")
	}

	if existing := gr.findEdgeLocked(typ, from, to); existing != nil {
		for k, v := range props {
			existing.Props[k] = v
		}
		if _, ok := props["source_info"]; !ok {
			existing.Props["source_info"] = sourceInfoProp(src)
		}
		return existing, nil
	}

	e := &Edge{Type: typ, From: from, To: to, Props: map[string]any{}}
	for k, v := range props {
		e.Props[k] = v
	}
	if _, ok := props["source_info"]; !ok {
		e.Props["source_info"] = sourceInfoProp(src)
	}
	gr.edges = append(gr.edges, e)

	// dominikbraun/graph rejects a duplicate (from,to) edge of the same
	// hash pair; since our uniqueness is keyed by (type,from,to) rather
	// than just (from,to), a second relation type between the same pair
	// is expected and simply not mirrored into g a second time.
	_ = gr.g.AddEdge(from, to)

	gr.indexEdgeLocked(e)
	return e, nil
}

func (gr *Graph) findEdgeLocked(typ EdgeType, from, to string) *Edge {
	for _, e := range gr.edges {
		if e.Type == typ && e.From == from && e.To == to {
			return e
		}
	}
	return nil
}

func (gr *Graph) indexEdgeLocked(e *Edge) {
	if gr.outByID[e.From] == nil {
		gr.outByID[e.From] = make(map[EdgeType][]*Edge)
	}
	gr.outByID[e.From][e.Type] = append(gr.outByID[e.From][e.Type], e)

	if gr.inByID[e.To] == nil {
		gr.inByID[e.To] = make(map[EdgeType][]*Edge)
	}
	gr.inByID[e.To][e.Type] = append(gr.inByID[e.To][e.Type], e)
}

// Outgoing returns every edge of type t leaving node id, O(deg_out(id)).
func (gr *Graph) Outgoing(id string, t EdgeType) []*Edge {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return append([]*Edge(nil), gr.outByID[id][t]...)
}

// Incoming returns every edge of type t arriving at node id, O(deg_in(id)).
func (gr *Graph) Incoming(id string, t EdgeType) []*Edge {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return append([]*Edge(nil), gr.inByID[id][t]...)
}

// Reachable returns every node id reachable from id by any number of hops
// across any edge type, computed over dominikbraun/graph's own adjacency
// map. The per-type outByID/inByID indexes only answer direct neighbors of
// one edge type; multi-hop reachability regardless of relation is exactly
// the connectivity query the library's own graph exists to answer.
func (gr *Graph) Reachable(id string) ([]string, error) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()

	if _, err := gr.g.Vertex(id); err != nil {
		return nil, errs.New(errs.NotFound, "memgraph: node "+id+" does not exist")
	}
	adj, err := gr.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}

// Nodes returns a snapshot of every node in the graph.
func (gr *Graph) Nodes() []*Node {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	out := make([]*Node, 0, len(gr.nodes))
	for _, n := range gr.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns a snapshot of every edge in the graph.
func (gr *Graph) Edges() []*Edge {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return append([]*Edge(nil), gr.edges...)
}

// NodeCount and EdgeCount support the invariant check
// |edges| == |{(t,from,to)}| from spec §8.
func (gr *Graph) NodeCount() int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return len(gr.nodes)
}

func (gr *Graph) EdgeCount() int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return len(gr.edges)
}

// dictNode/dictEdge are the canonical export shape for ToDict/FromDict.
type dictNode struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
}

type dictEdge struct {
	Type  string         `json:"type"`
	From  string         `json:"from"`
	To    string         `json:"to"`
	Props map[string]any `json:"props"`
}

// ToDict exports the graph to a plain, JSON-serializable shape.
func (gr *Graph) ToDict() (nodes []map[string]any, edges []map[string]any) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	for _, n := range gr.nodes {
		nodes = append(nodes, map[string]any{"id": n.ID, "type": string(n.Type), "props": n.Props})
	}
	for _, e := range gr.edges {
		edges = append(edges, map[string]any{"type": string(e.Type), "from": e.From, "to": e.To, "props": e.Props})
	}
	return nodes, edges
}

// FromDict rebuilds a graph from the shape ToDict produces. It is the
// identity when round-tripped: FromDict(ToDict(g)) reconstructs a graph
// with identical nodes, edges, and adjacency indexes.
func FromDict(nodes, edges []map[string]any) (*Graph, error) {
	gr := New()
	now := SourceInfo{Source: "import", Timestamp: gr.clock.Now()}
	for _, n := range nodes {
		id, _ := n["id"].(string)
		typ, _ := n["type"].(string)
		props, _ := n["props"].(map[string]any)
		gr.upsertNodeLocked(id, NodeType(typ), props, now)
	}
	for _, e := range edges {
		typ, _ := e["type"].(string)
		from, _ := e["from"].(string)
		to, _ := e["to"].(string)
		props, _ := e["props"].(map[string]any)
		if _, err := gr.addEdgeLocked(EdgeType(typ), from, to, props, now); err != nil {
			return nil, err
		}
	}
	return gr, nil
}
