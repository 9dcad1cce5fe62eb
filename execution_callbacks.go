package automation

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for execution events.
// Execution and path callbacks run on the orchestrating goroutine; node
// callbacks run on the goroutine of the path executing the node and may be
// called concurrently.
type ExecutionCallbacks interface {
	// Execution-level callbacks
	BeforeExecution(ctx context.Context, event *ExecutionEvent)
	AfterExecution(ctx context.Context, event *ExecutionEvent)

	// Path-level callbacks
	BeforePath(ctx context.Context, event *PathEvent)
	AfterPath(ctx context.Context, event *PathEvent)

	// Node-level callbacks
	BeforeNode(ctx context.Context, event *NodeEvent)
	AfterNode(ctx context.Context, event *NodeEvent)
}

// ExecutionEvent provides context for execution-level events
type ExecutionEvent struct {
	ExecutionID  string
	WorkflowID   string
	WorkflowName string
	TriggerType  TriggerType
	Status       ExecutionStatus
	Resumed      bool
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// PathEvent provides context for path-level events
type PathEvent struct {
	ExecutionID string
	WorkflowID  string
	PathID      string
	NodeID      string
	Suspended   bool
	Failed      bool
}

// NodeEvent provides context for node-level events
type NodeEvent struct {
	ExecutionID string
	WorkflowID  string
	PathID      string
	NodeID      string
	Kind        NodeKind
	Status      NodeStatus
	Output      any
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Error       error
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforePath(ctx context.Context, event *PathEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterPath(ctx context.Context, event *PathEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeNode(ctx context.Context, event *NodeEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterNode(ctx context.Context, event *NodeEvent) {
	// noop
}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed BaseExecutionCallbacks in your own callbacks to only implement the
// events you care about.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforePath(ctx context.Context, event *PathEvent) {
	for _, callback := range c.callbacks {
		callback.BeforePath(ctx, event)
	}
}

func (c *CallbackChain) AfterPath(ctx context.Context, event *PathEvent) {
	for _, callback := range c.callbacks {
		callback.AfterPath(ctx, event)
	}
}

func (c *CallbackChain) BeforeNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeNode(ctx, event)
	}
}

func (c *CallbackChain) AfterNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.AfterNode(ctx, event)
	}
}
