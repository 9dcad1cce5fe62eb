package automation

import (
	"fmt"
	"reflect"
)

// Position is the display location of a node on the editor canvas. It is
// ignored by execution.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single step in a workflow graph. Config holds the raw
// kind-specific configuration exactly as authored.
type Node struct {
	ID       string
	Kind     NodeKind
	Position Position
	Label    string
	Config   map[string]any
}

// Edge connects two nodes. Branch is set on edges leaving logic_if_else
// ("true" or "false") and logic_switch (a case value or "default") nodes.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Graph is the node and edge store of a workflow, keyed by stable string
// ids. Slice order is insertion order and is significant: it decides the
// order in which fan-out continuations are spawned.
type Graph struct {
	Nodes []*Node `json:"nodes" yaml:"nodes"`
	Edges []*Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// TriggerNode returns the first node with a trigger kind, or nil.
func (g *Graph) TriggerNode() *Node {
	for _, n := range g.Nodes {
		if n.Kind.IsTrigger() {
			return n
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving nodeID in insertion order. For
// branching nodes only the edges labeled with branch are returned; for all
// other nodes the branch argument is ignored.
func (g *Graph) OutgoingEdges(nodeID, branch string) []*Edge {
	source, ok := g.Node(nodeID)
	if !ok {
		return nil
	}
	var edges []*Edge
	for _, e := range g.Edges {
		if e.Source != nodeID {
			continue
		}
		if source.Kind.IsBranching() && e.Branch != branch {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// IncomingEdges returns the edges arriving at nodeID in insertion order.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var edges []*Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// AddNode appends a node.
func (g *Graph) AddNode(n *Node) {
	g.Nodes = append(g.Nodes, n)
}

// Connect appends an edge from source to target with an optional branch
// label and returns it. The edge id is derived from its endpoints.
func (g *Graph) Connect(source, target, branch string) *Edge {
	id := fmt.Sprintf("e-%s-%s", source, target)
	if branch != "" {
		id += "-" + branch
	}
	e := &Edge{ID: id, Source: source, Target: target, Branch: branch}
	g.Edges = append(g.Edges, e)
	return e
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Nodes: make([]*Node, 0, len(g.Nodes)),
		Edges: make([]*Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		cp := *n
		if n.Config != nil {
			cp.Config = copyMap(n.Config)
		}
		out.Nodes = append(out.Nodes, &cp)
	}
	for _, e := range g.Edges {
		cp := *e
		out.Edges = append(out.Edges, &cp)
	}
	return out
}

// Equal reports whether two graphs are structurally identical. Config
// values are compared in their JSON form, so 5 and 5.0 are equal and a
// missing config equals an empty one.
func (g *Graph) Equal(other *Graph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.Nodes) != len(other.Nodes) || len(g.Edges) != len(other.Edges) {
		return false
	}
	for i, n := range g.Nodes {
		o := other.Nodes[i]
		if n.ID != o.ID || n.Kind != o.Kind || n.Label != o.Label || n.Position != o.Position {
			return false
		}
		if !reflect.DeepEqual(normalizeConfig(n.Config), normalizeConfig(o.Config)) {
			return false
		}
	}
	for i, e := range g.Edges {
		if *e != *other.Edges[i] {
			return false
		}
	}
	return true
}

func normalizeConfig(cfg map[string]any) any {
	if len(cfg) == 0 {
		return map[string]any{}
	}
	return NormalizeValue(cfg)
}

// Validate checks the structural rules of the graph and returns the first
// violation found as a *GraphValidationError. Nodes are checked before
// edges and both in insertion order, so the reported error is stable.
func (g *Graph) Validate() error {
	nodes := make(map[string]*Node, len(g.Nodes))
	var trigger *Node
	for _, n := range g.Nodes {
		if n.ID == "" {
			return validationErrorf(CodeEmptyNodeID, "node id must not be empty")
		}
		if _, dup := nodes[n.ID]; dup {
			err := validationErrorf(CodeDuplicateNode, "duplicate node id")
			err.NodeID = n.ID
			return err
		}
		nodes[n.ID] = n
		if n.Kind.Category() == "" {
			err := validationErrorf(CodeUnknownKind, "unknown node type %q", n.Kind)
			err.NodeID = n.ID
			return err
		}
		if n.Kind.IsTrigger() {
			if trigger != nil {
				err := validationErrorf(CodeMultipleTriggers,
					"workflow has more than one trigger (also %q)", trigger.ID)
				err.NodeID = n.ID
				return err
			}
			trigger = n
		}
	}
	if trigger == nil {
		return validationErrorf(CodeMissingTrigger, "workflow must have exactly one trigger node")
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	pairs := make(map[[2]string]bool, len(g.Edges))
	for _, e := range g.Edges {
		edgeErr := func(code, format string, args ...any) error {
			err := validationErrorf(code, format, args...)
			err.EdgeID = e.ID
			return err
		}
		if e.ID == "" {
			return edgeErr(CodeEmptyEdgeID, "edge id must not be empty")
		}
		if edgeIDs[e.ID] {
			return edgeErr(CodeDuplicateEdgeID, "duplicate edge id")
		}
		edgeIDs[e.ID] = true
		source, ok := nodes[e.Source]
		if !ok {
			return edgeErr(CodeDanglingEdge, "source node %q does not exist", e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return edgeErr(CodeDanglingEdge, "target node %q does not exist", e.Target)
		}
		if e.Source == e.Target {
			return edgeErr(CodeSelfLoop, "edge connects node %q to itself", e.Source)
		}
		pair := [2]string{e.Source, e.Target}
		if pairs[pair] {
			return edgeErr(CodeDuplicateEdge, "duplicate edge from %q to %q", e.Source, e.Target)
		}
		pairs[pair] = true
		if e.Target == trigger.ID {
			return edgeErr(CodeTriggerHasIncoming, "trigger node %q cannot have incoming edges", trigger.ID)
		}
		switch source.Kind {
		case KindIfElse:
			if e.Branch != "true" && e.Branch != "false" {
				return edgeErr(CodeInvalidBranch, "edges leaving %s must have branch \"true\" or \"false\"", source.Kind)
			}
		case KindSwitch:
			if e.Branch == "" {
				return edgeErr(CodeInvalidBranch, "edges leaving %s must have a branch label", source.Kind)
			}
		}
	}
	return g.checkAcyclic()
}

// checkAcyclic runs a depth-first search from every node in insertion order
// and reports the first edge that closes a cycle.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	adjacency := make(map[string][]*Edge, len(g.Nodes))
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e)
	}
	state := make(map[string]int, len(g.Nodes))
	var visit func(id string) *Edge
	visit = func(id string) *Edge {
		state[id] = visiting
		for _, e := range adjacency[id] {
			switch state[e.Target] {
			case visiting:
				return e
			case unvisited:
				if back := visit(e.Target); back != nil {
					return back
				}
			}
		}
		state[id] = done
		return nil
	}
	for _, n := range g.Nodes {
		if state[n.ID] != unvisited {
			continue
		}
		if back := visit(n.ID); back != nil {
			err := validationErrorf(CodeCycle, "edge from %q to %q creates a cycle", back.Source, back.Target)
			err.NodeID = back.Target
			err.EdgeID = back.ID
			return err
		}
	}
	return nil
}
