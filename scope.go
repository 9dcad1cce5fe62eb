package automation

// Scope is the data visible to variable references on one path of an
// execution. Each path owns its scope; fan-out hands every child a copy, so
// sibling paths never observe each other's writes.
type Scope struct {
	Trigger     map[string]any `json:"trigger"`
	Nodes       map[string]any `json:"nodes"`
	Vars        map[string]any `json:"vars"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Workflow    string         `json:"workflow_name"`
}

// NewScope returns a scope seeded with the trigger payload.
func NewScope(trigger map[string]any) *Scope {
	return &Scope{
		Trigger: NormalizeMap(trigger),
		Nodes:   map[string]any{},
		Vars:    map[string]any{},
	}
}

// Clone copies the scope. Stored values are treated as immutable, so only
// the top-level maps are copied.
func (s *Scope) Clone() *Scope {
	cp := *s
	cp.Nodes = make(map[string]any, len(s.Nodes))
	for k, v := range s.Nodes {
		cp.Nodes[k] = v
	}
	cp.Vars = make(map[string]any, len(s.Vars))
	for k, v := range s.Vars {
		cp.Vars[k] = v
	}
	return &cp
}

// SetOutput records the output of a node.
func (s *Scope) SetOutput(nodeID string, output any) {
	s.Nodes[nodeID] = output
}

// SetVar assigns a workflow variable.
func (s *Scope) SetVar(key string, value any) {
	s.Vars[key] = value
}

// root returns the namespace tree that paths are resolved against.
func (s *Scope) root() map[string]any {
	return map[string]any{
		"trigger": s.Trigger,
		"nodes":   s.Nodes,
		"vars":    s.Vars,
		"execution": map[string]any{
			"id": s.ExecutionID,
		},
		"workflow": map[string]any{
			"id":   s.WorkflowID,
			"name": s.Workflow,
		},
	}
}
