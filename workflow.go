package automation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.jetify.com/typeid"
	"gopkg.in/yaml.v3"
)

// Options are used to define a workflow, for example from a YAML file.
type Options struct {
	ID          string      `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerType TriggerType `json:"trigger_type,omitempty" yaml:"trigger_type,omitempty"`
	Enabled     bool        `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Canvas      *Graph      `json:"canvas_data" yaml:"canvas"`
}

// Workflow is a named, event-triggered graph of nodes owned by a tenant.
type Workflow struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	TriggerType   TriggerType `json:"trigger_type"`
	Enabled       bool        `json:"enabled"`
	Graph         *Graph      `json:"canvas_data"`
	WebhookToken  string      `json:"webhook_token,omitempty"`
	WebhookSecret string      `json:"webhook_secret,omitempty"`
	CreatedAt     time.Time   `json:"created_at,omitzero"`
	UpdatedAt     time.Time   `json:"updated_at,omitzero"`
}

// New returns a workflow built from the given options. The graph is checked
// for structural validity; node configs are checked by a Registry.
func New(opts Options) (*Workflow, error) {
	w := &Workflow{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		TriggerType: opts.TriggerType,
		Enabled:     opts.Enabled,
		Graph:       opts.Canvas,
	}
	w.normalize()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWorkflowID returns a new unique workflow id.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// normalize fills in values derivable from the rest of the definition.
func (w *Workflow) normalize() {
	w.Name = strings.TrimSpace(w.Name)
	if w.Graph == nil {
		w.Graph = &Graph{Nodes: []*Node{}, Edges: []*Edge{}}
	}
	if w.TriggerType == "" {
		if trigger := w.Graph.TriggerNode(); trigger != nil {
			w.TriggerType = trigger.Kind.TriggerType()
		}
	}
}

// Validate checks the workflow fields and the structure of its graph.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return &GraphValidationError{Code: CodeInvalidWorkflow, Field: "name", Message: "workflow name required"}
	}
	if w.Graph == nil {
		return &GraphValidationError{Code: CodeMissingTrigger, Message: "workflow must have exactly one trigger node"}
	}
	if err := w.Graph.Validate(); err != nil {
		return err
	}
	if !w.TriggerType.Valid() {
		return &GraphValidationError{Code: CodeInvalidWorkflow, Field: "trigger_type",
			Message: fmt.Sprintf("unsupported trigger type %q", w.TriggerType)}
	}
	trigger := w.Graph.TriggerNode()
	if trigger.Kind != w.TriggerType.Kind() {
		return &GraphValidationError{Code: CodeTriggerMismatch, NodeID: trigger.ID, Field: "trigger_type",
			Message: fmt.Sprintf("trigger type %q does not match trigger node type %q", w.TriggerType, trigger.Kind)}
	}
	return nil
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Graph = w.Graph.Clone()
	return &cp
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadString(string(data))
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	return New(opts)
}
