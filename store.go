package automation

import (
	"context"
	"time"
)

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	TriggerType TriggerType
	EnabledOnly bool
}

// Match reports whether the workflow passes the filter.
func (f WorkflowFilter) Match(w *Workflow) bool {
	if f.TriggerType != "" && w.TriggerType != f.TriggerType {
		return false
	}
	if f.EnabledOnly && !w.Enabled {
		return false
	}
	return true
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	// GetWorkflow returns ErrWorkflowNotFound for unknown ids.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	GetWorkflowByWebhookToken(ctx context.Context, token string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	// ListWorkflows returns workflows in creation order.
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
}

// ExecutionStore persists executions, node logs, and suspended paths.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *Execution) error
	// GetExecution returns ErrExecutionNotFound for unknown ids.
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// ListExecutions returns executions newest first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	// MarkExecutionRunning moves a pending execution to running. It is a
	// no-op for a running execution and returns ErrExecutionFinalized for a
	// terminal one.
	MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error
	// FinishExecution moves a non-terminal execution to a terminal status.
	// It returns ErrExecutionFinalized if the execution already finished.
	FinishExecution(ctx context.Context, id string, status ExecutionStatus, completedAt time.Time, errorMessage string) error

	AppendNodeLog(ctx context.Context, log *NodeLog) error
	// ListNodeLogs returns the logs of an execution in append order.
	ListNodeLogs(ctx context.Context, executionID string) ([]*NodeLog, error)

	SaveSuspension(ctx context.Context, s *Suspension) error
	// ListDueSuspensions returns suspensions with ResumeAt at or before the
	// given time, earliest first.
	ListDueSuspensions(ctx context.Context, before time.Time) ([]*Suspension, error)
	ListSuspensions(ctx context.Context, executionID string) ([]*Suspension, error)
	// ClaimSuspension removes a suspension and reports whether this caller
	// removed it.
	ClaimSuspension(ctx context.Context, id string) (bool, error)
	DeleteSuspensions(ctx context.Context, executionID string) error
}

// Store combines workflow and execution persistence.
type Store interface {
	WorkflowStore
	ExecutionStore
}

func sortSuspensions(s []*Suspension) {
	sortStable(s, func(a, b *Suspension) bool {
		if !a.ResumeAt.Equal(b.ResumeAt) {
			return a.ResumeAt.Before(b.ResumeAt)
		}
		return a.ID < b.ID
	})
}
