package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/automation/retry"
)

var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionFinalized = errors.New("execution already finalized")
	ErrNotWebhookWorkflow = errors.New("workflow is not triggered by webhooks")
	ErrInvalidWebhookAuth = errors.New("invalid webhook credentials")
)

// Validation error codes
const (
	CodeInvalidWorkflow    = "invalid_workflow"
	CodeTriggerMismatch    = "trigger_mismatch"
	CodeEmptyNodeID        = "empty_node_id"
	CodeDuplicateNode      = "duplicate_node"
	CodeUnknownKind        = "unknown_kind"
	CodeMissingTrigger     = "missing_trigger"
	CodeMultipleTriggers   = "multiple_triggers"
	CodeEmptyEdgeID        = "empty_edge_id"
	CodeDuplicateEdgeID    = "duplicate_edge_id"
	CodeDanglingEdge       = "dangling_edge"
	CodeSelfLoop           = "self_loop"
	CodeDuplicateEdge      = "duplicate_edge"
	CodeTriggerHasIncoming = "trigger_has_incoming"
	CodeInvalidBranch      = "invalid_branch"
	CodeCycle              = "cycle"
	CodeInvalidConfig      = "invalid_config"
)

// GraphValidationError describes why a workflow definition was rejected.
// NodeID, EdgeID and Field are set when the problem is local to one element.
type GraphValidationError struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *GraphValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid workflow")
	if e.NodeID != "" {
		fmt.Fprintf(&b, ": node %q", e.NodeID)
	}
	if e.EdgeID != "" {
		fmt.Fprintf(&b, ": edge %q", e.EdgeID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	return b.String()
}

func validationErrorf(code, format string, args ...any) *GraphValidationError {
	return &GraphValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a *GraphValidationError.
func IsValidationError(err error) bool {
	var verr *GraphValidationError
	return errors.As(err, &verr)
}

// Error type constants for node failure classification
const (
	// ErrorTypeNodeFailed is the default for errors returned by executors
	ErrorTypeNodeFailed = "node_failed"

	// ErrorTypeTimeout matches a deadline or timeout reported by a collaborator
	ErrorTypeTimeout = "timeout"

	// ErrorTypeInvalidConfig marks a node whose config could not be decoded
	ErrorTypeInvalidConfig = "invalid_config"
)

// NodeExecutionError is a failure of a single node. It fails the node and
// ends the path that reached it, but does not by itself stop other paths.
type NodeExecutionError struct {
	NodeID      string   `json:"node_id"`
	Kind        NodeKind `json:"kind"`
	Type        string   `json:"type"`
	Cause       string   `json:"cause"`
	Recoverable bool     `json:"recoverable"`
	Wrapped     error    `json:"-"`
}

func (e *NodeExecutionError) Error() string {
	return e.Cause
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Wrapped
}

// ClassifyError converts an executor error into a NodeExecutionError for the
// given node.
func ClassifyError(node *Node, err error) *NodeExecutionError {
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}
	out := &NodeExecutionError{
		Type:        ErrorTypeNodeFailed,
		Cause:       err.Error(),
		Recoverable: retry.IsRecoverable(err),
		Wrapped:     err,
	}
	if node != nil {
		out.NodeID = node.ID
		out.Kind = node.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		out.Type = ErrorTypeTimeout
	}
	return out
}

// EngineFault is a failure of the engine itself rather than of a node, such
// as an unregistered node kind, a broken snapshot, or a store error. A fault
// stops every path of the execution.
type EngineFault struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
	Detail      string `json:"detail"`
}

func (e *EngineFault) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("engine fault at node %q: %s", e.NodeID, e.Detail)
	}
	return "engine fault: " + e.Detail
}
