package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// KnowledgeGraph is the in-memory adjacency model. It is safe for concurrent
// use; all mutation replaces nodes/edges wholesale rather than mutating in
// place.
type KnowledgeGraph struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	edges    map[string]Edge
	outgoing map[string][]string // node ID -> edge IDs leaving it
	incoming map[string][]string // node ID -> edge IDs entering it
}

// NewKnowledgeGraph returns an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		nodes:    make(map[string]Node),
		edges:    make(map[string]Edge),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddNode inserts or replaces a node. Weight defaults to 1.0 and LastUpdated
// is stamped when absent.
func (g *KnowledgeGraph) AddNode(n Node) (Node, error) {
	if n.Weight == 0 {
		n.Weight = 1.0
	}
	if n.LastUpdated.IsZero() {
		n.LastUpdated = time.Now().UTC()
	}
	if err := n.validate(); err != nil {
		return Node{}, err
	}

	g.mu.Lock()
	g.nodes[n.ID] = n
	g.mu.Unlock()

	logging.GraphDebug("node added: %s (type=%s)", n.ID, n.Type)
	return n, nil
}

// AddEdge inserts or replaces an edge. The ID is derived from
// source+type+target unless supplied. Edges to not-yet-added nodes are
// accepted; the verifier reports them as warnings.
func (g *KnowledgeGraph) AddEdge(e Edge) (Edge, error) {
	if e.ID == "" {
		e.ID = DerivedEdgeID(e.Source, e.Type, e.Target)
	}
	if e.Weight == 0 {
		e.Weight = 1.0
	}
	if e.LastUpdated.IsZero() {
		e.LastUpdated = time.Now().UTC()
	}
	if err := e.validate(); err != nil {
		return Edge{}, err
	}

	g.mu.Lock()
	if old, exists := g.edges[e.ID]; exists {
		g.detachLocked(old)
	}
	g.edges[e.ID] = e
	g.outgoing[e.Source] = append(g.outgoing[e.Source], e.ID)
	g.incoming[e.Target] = append(g.incoming[e.Target], e.ID)
	g.mu.Unlock()

	logging.GraphDebug("edge added: %s -[%s]-> %s", e.Source, e.Type, e.Target)
	return e, nil
}

func (g *KnowledgeGraph) detachLocked(e Edge) {
	g.outgoing[e.Source] = removeID(g.outgoing[e.Source], e.ID)
	g.incoming[e.Target] = removeID(g.incoming[e.Target], e.ID)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// GetNode returns a node by ID.
func (g *KnowledgeGraph) GetNode(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// GetAllNodes returns every node. Full materialization is acceptable at the
// scale this store targets (tens of thousands of nodes).
func (g *KnowledgeGraph) GetAllNodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAllEdges returns every edge.
func (g *KnowledgeGraph) GetAllEdges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QueryFilter selects nodes and edges by type. Empty slices match everything.
type QueryFilter struct {
	NodeTypes []string
	EdgeTypes []string
}

// QueryResult is the output of Query.
type QueryResult struct {
	Nodes []Node
	Edges []Edge
}

// Query filters the graph by typed predicates. Unmatched filters return
// empty results, never an error.
func (g *KnowledgeGraph) Query(f QueryFilter) QueryResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result QueryResult
	for _, n := range g.nodes {
		if matchesType(n.Type, f.NodeTypes) {
			result.Nodes = append(result.Nodes, n)
		}
	}
	for _, e := range g.edges {
		if matchesType(e.Type, f.EdgeTypes) {
			result.Edges = append(result.Edges, e)
		}
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].ID < result.Nodes[j].ID })
	sort.Slice(result.Edges, func(i, j int) bool { return result.Edges[i].ID < result.Edges[j].ID })
	return result
}

func matchesType(t string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// GetConnections returns the direct neighbors of a node via both outgoing
// and incoming edges, deduplicated.
func (g *KnowledgeGraph) GetConnections(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, eid := range g.outgoing[nodeID] {
		if t := g.edges[eid].Target; !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, eid := range g.incoming[nodeID] {
		if s := g.edges[eid].Source; !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Path is a node sequence with the edges connecting it; len(Edges) is always
// len(Nodes)-1.
type Path struct {
	Nodes []Node
	Edges []Edge
}

// FindPath runs a breadth-first search from one node to another, following
// outgoing edges. Hop count is the distance; edge weight is not used (this
// is reachability, not weighted shortest path). Returns nil when no path
// exists, and the trivial single-node path when from == to.
func (g *KnowledgeGraph) FindPath(from, to string) *Path {
	timer := logging.StartTimer(logging.CategoryGraph, "FindPath")
	defer timer.Stop()

	g.mu.RLock()
	defer g.mu.RUnlock()

	fromNode, ok := g.nodes[from]
	if !ok {
		return nil
	}
	if from == to {
		return &Path{Nodes: []Node{fromNode}}
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}

	// cameFrom maps a node to the edge that reached it; storing only the
	// predecessor edge keeps memory at O(V) instead of queueing full paths.
	cameFrom := make(map[string]*Edge)
	cameFrom[from] = nil
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			return g.reconstructPathLocked(from, to, cameFrom)
		}
		for _, eid := range g.outgoing[current] {
			e := g.edges[eid]
			if _, visited := cameFrom[e.Target]; visited {
				continue
			}
			if _, exists := g.nodes[e.Target]; !exists {
				// Dangling edge; nothing to traverse into.
				continue
			}
			edge := e
			cameFrom[e.Target] = &edge
			queue = append(queue, e.Target)
		}
	}

	logging.GraphDebug("no path from %s to %s (visited %d nodes)", from, to, len(cameFrom))
	return nil
}

func (g *KnowledgeGraph) reconstructPathLocked(from, to string, cameFrom map[string]*Edge) *Path {
	var reversedEdges []Edge
	curr := to
	for curr != from {
		e := cameFrom[curr]
		if e == nil {
			break
		}
		reversedEdges = append(reversedEdges, *e)
		curr = e.Source
	}

	path := &Path{}
	path.Nodes = append(path.Nodes, g.nodes[from])
	for i := len(reversedEdges) - 1; i >= 0; i-- {
		e := reversedEdges[i]
		path.Edges = append(path.Edges, e)
		path.Nodes = append(path.Nodes, g.nodes[e.Target])
	}
	return path
}

// RemoveNode removes a node and every edge touching it. Returns false (not
// an error) when the node does not exist.
func (g *KnowledgeGraph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)

	for eid, e := range g.edges {
		if e.Source == id || e.Target == id {
			g.detachLocked(e)
			delete(g.edges, eid)
		}
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)

	logging.GraphDebug("node removed with cascading edges: %s", id)
	return true
}

// NodeDegree pairs a node ID with its connection count.
type NodeDegree struct {
	ID          string `json:"id"`
	Connections int    `json:"connections"`
}

// GraphStatistics summarizes the in-memory model.
type GraphStatistics struct {
	NodeCount           int            `json:"nodeCount"`
	EdgeCount           int            `json:"edgeCount"`
	NodesByType         map[string]int `json:"nodesByType"`
	AverageConnectivity float64        `json:"averageConnectivity"`
	MostConnectedNodes  []NodeDegree   `json:"mostConnectedNodes"`
}

// GetStatistics computes aggregate statistics over the current graph.
func (g *KnowledgeGraph) GetStatistics() GraphStatistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GraphStatistics{
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.edges),
		NodesByType: make(map[string]int),
	}
	for _, n := range g.nodes {
		stats.NodesByType[n.Type]++
	}

	degrees := make([]NodeDegree, 0, len(g.nodes))
	total := 0
	for id := range g.nodes {
		d := len(g.outgoing[id]) + len(g.incoming[id])
		degrees = append(degrees, NodeDegree{ID: id, Connections: d})
		total += d
	}
	if len(g.nodes) > 0 {
		stats.AverageConnectivity = float64(total) / float64(len(g.nodes))
	}

	sort.Slice(degrees, func(i, j int) bool {
		if degrees[i].Connections != degrees[j].Connections {
			return degrees[i].Connections > degrees[j].Connections
		}
		return degrees[i].ID < degrees[j].ID
	})
	if len(degrees) > 5 {
		degrees = degrees[:5]
	}
	stats.MostConnectedNodes = degrees
	return stats
}

// SaveToStorage persists the in-memory graph through graph storage.
func (g *KnowledgeGraph) SaveToStorage(st *Storage) error {
	return st.SaveGraph(g.GetAllNodes(), g.GetAllEdges())
}

// LoadFromStorage hydrates the graph from storage, replacing current
// contents. Used for process-restart durability.
func (g *KnowledgeGraph) LoadFromStorage(st *Storage) error {
	nodes, edges, err := st.LoadGraph()
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.nodes = make(map[string]Node, len(nodes))
	g.edges = make(map[string]Edge, len(edges))
	g.outgoing = make(map[string][]string)
	g.incoming = make(map[string][]string)
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range edges {
		g.edges[e.ID] = e
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e.ID)
		g.incoming[e.Target] = append(g.incoming[e.Target], e.ID)
	}
	g.mu.Unlock()

	logging.Graph("graph hydrated from storage: %d nodes, %d edges", len(nodes), len(edges))
	return nil
}
