package automation

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// canvasNode is the editor's wire shape for a node:
// {id, type, position:{x,y}, data:{label, config}}.
type canvasNode struct {
	ID       string         `json:"id" yaml:"id"`
	Type     NodeKind       `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     canvasNodeData `json:"data" yaml:"data"`
}

type canvasNodeData struct {
	Label  string         `json:"label" yaml:"label"`
	Config map[string]any `json:"config" yaml:"config"`
}

func (n *Node) toCanvas() canvasNode {
	cfg := n.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return canvasNode{
		ID:       n.ID,
		Type:     n.Kind,
		Position: n.Position,
		Data:     canvasNodeData{Label: n.Label, Config: cfg},
	}
}

func (n *Node) fromCanvas(c canvasNode) {
	*n = Node{
		ID:       c.ID,
		Kind:     c.Type,
		Position: c.Position,
		Label:    c.Data.Label,
		Config:   c.Data.Config,
	}
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toCanvas())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var c canvasNode
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	n.fromCanvas(c)
	return nil
}

func (n Node) MarshalYAML() (any, error) {
	return n.toCanvas(), nil
}

func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var c canvasNode
	if err := value.Decode(&c); err != nil {
		return err
	}
	// YAML decodes nested maps with string keys already, but numbers may
	// be ints; normalize to the JSON value space used everywhere else.
	if c.Data.Config != nil {
		normalized, ok := NormalizeValue(c.Data.Config).(map[string]any)
		if !ok {
			return fmt.Errorf("node %q: config must be a mapping", c.ID)
		}
		c.Data.Config = normalized
	}
	n.fromCanvas(c)
	return nil
}

// ParseCanvas decodes a canvas_data document.
func ParseCanvas(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid canvas data: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = []*Node{}
	}
	if g.Edges == nil {
		g.Edges = []*Edge{}
	}
	return &g, nil
}

// MarshalCanvas encodes the graph as a canvas_data document.
func (g *Graph) MarshalCanvas() ([]byte, error) {
	out := Graph{Nodes: g.Nodes, Edges: g.Edges}
	if out.Nodes == nil {
		out.Nodes = []*Node{}
	}
	if out.Edges == nil {
		out.Edges = []*Edge{}
	}
	return json.Marshal(out)
}
