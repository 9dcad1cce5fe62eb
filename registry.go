package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// NodeExecutor performs the work of one node kind.
type NodeExecutor interface {
	Execute(ctx context.Context, in *NodeInput) (*NodeResult, error)
}

// NodeExecutorFunc adapts a function to the NodeExecutor interface.
type NodeExecutorFunc func(ctx context.Context, in *NodeInput) (*NodeResult, error)

func (f NodeExecutorFunc) Execute(ctx context.Context, in *NodeInput) (*NodeResult, error) {
	return f(ctx, in)
}

// NodeInput is passed to an executor. Config is already decoded; string
// fields still contain unresolved placeholders, which the executor resolves
// with Resolve so that warnings are recorded on the node log.
type NodeInput struct {
	ExecutionID string
	WorkflowID  string
	PathID      string
	Node        *Node
	Config      NodeConfig
	Scope       *Scope
	Logger      *slog.Logger
	Now         time.Time

	mu       sync.Mutex
	warnings []string
}

// Resolve substitutes placeholders in s against the path scope.
func (in *NodeInput) Resolve(s string) string {
	out, warnings := Resolve(s, in.Scope)
	in.Warn(warnings...)
	return out
}

// ResolveValue substitutes placeholders in every string within v.
func (in *NodeInput) ResolveValue(v any) any {
	out, warnings := ResolveValue(v, in.Scope)
	in.Warn(warnings...)
	return out
}

// Field returns the value a logic node inspects. A field containing a
// placeholder is resolved as a template; otherwise it is a dotted path.
func (in *NodeInput) Field(field string) string {
	if strings.Contains(field, "{{") {
		return in.Resolve(field)
	}
	value, ok := Lookup(in.Scope, field)
	if !ok {
		in.Warn(fmt.Sprintf("unresolved variable %q", strings.TrimSpace(field)))
		return ""
	}
	return Stringify(value)
}

// Warn records non-fatal problems on the node log.
func (in *NodeInput) Warn(msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.warnings = append(in.warnings, msgs...)
}

// Warnings returns the warnings recorded so far.
func (in *NodeInput) Warnings() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.warnings...)
}

// NodeResult is what an executor returns on success.
type NodeResult struct {
	// Output is recorded on the node log and exposed as nodes.<id>.
	Output any
	// Branch selects the outgoing edges of a branching node.
	Branch string
	// Vars are assigned to the path scope.
	Vars map[string]any
	// Delay suspends the path for the given duration.
	Delay time.Duration
}

// NodeSpec describes a node kind: how its config decodes, which fields are
// mandatory, and who executes it.
type NodeSpec struct {
	Kind      NodeKind
	Required  []string
	NewConfig func() NodeConfig
	Executor  NodeExecutor
}

// Registry maps node kinds to their specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[NodeKind]*NodeSpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[NodeKind]*NodeSpec)}
}

// Register adds a spec. Registering a kind twice is an error.
func (r *Registry) Register(spec *NodeSpec) error {
	if spec == nil || spec.Kind == "" {
		return fmt.Errorf("node spec must have a kind")
	}
	if spec.Kind.Category() == "" {
		return fmt.Errorf("node kind %q has no known category", spec.Kind)
	}
	if spec.Executor == nil {
		return fmt.Errorf("node kind %q has no executor", spec.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Kind]; exists {
		return fmt.Errorf("node kind %q already registered", spec.Kind)
	}
	r.specs[spec.Kind] = spec
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(spec *NodeSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Get returns the spec for a kind.
func (r *Registry) Get(kind NodeKind) (*NodeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[kind]
	return spec, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []NodeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]NodeKind, 0, len(r.specs))
	for k := range r.specs {
		kinds = append(kinds, k)
	}
	sortKinds(kinds)
	return kinds
}

// Decode checks required fields and decodes the node's config into the
// kind's typed config.
func (r *Registry) Decode(node *Node) (NodeConfig, error) {
	spec, ok := r.Get(node.Kind)
	if !ok {
		return nil, &GraphValidationError{Code: CodeUnknownKind, NodeID: node.ID,
			Message: fmt.Sprintf("no executor registered for node type %q", node.Kind)}
	}
	for _, field := range spec.Required {
		if isBlank(node.Config[field]) {
			return nil, &GraphValidationError{Code: CodeInvalidConfig, NodeID: node.ID, Field: field,
				Message: "required field is missing"}
		}
	}
	var cfg NodeConfig = &Common{}
	if spec.NewConfig != nil {
		cfg = spec.NewConfig()
	}
	if err := decodeConfig(node.Config, cfg); err != nil {
		return nil, &GraphValidationError{Code: CodeInvalidConfig, NodeID: node.ID, Message: err.Error()}
	}
	if v, ok := cfg.(configValidator); ok {
		if err := v.validate(); err != nil {
			if verr, ok := err.(*GraphValidationError); ok {
				verr.NodeID = node.ID
			}
			return nil, err
		}
	}
	return cfg, nil
}

// ValidateGraph checks graph structure and then every node's kind and
// config against the registry.
func (r *Registry) ValidateGraph(g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	for _, n := range g.Nodes {
		if _, err := r.Decode(n); err != nil {
			return err
		}
	}
	return nil
}

func isBlank(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
