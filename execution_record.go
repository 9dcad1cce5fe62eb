package automation

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new unique execution id.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewNodeLogID returns a new unique node log id.
func NewNodeLogID() string {
	id, err := typeid.WithPrefix("nlog")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewSuspensionID returns a new unique suspension id.
func NewSuspensionID() string {
	id, err := typeid.WithPrefix("susp")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is one run of a workflow. Graph is a snapshot of the workflow
// graph taken when the execution was created; later edits to the workflow
// do not affect it.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	TriggerType  TriggerType     `json:"trigger_type"`
	TriggerData  map[string]any  `json:"trigger_data"`
	Graph        *Graph          `json:"graph"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	CompletedAt  time.Time       `json:"completed_at,omitzero"`
}

// Clone returns a copy of the execution. The graph snapshot and trigger
// data are immutable and shared.
func (e *Execution) Clone() *Execution {
	cp := *e
	return &cp
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     ExecutionStatus
	Limit      int
}

// Match reports whether the execution passes the filter, ignoring Limit.
func (f ExecutionFilter) Match(e *Execution) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// SortExecutions orders executions newest first.
func SortExecutions(execs []*Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		if !execs[i].CreatedAt.Equal(execs[j].CreatedAt) {
			return execs[i].CreatedAt.After(execs[j].CreatedAt)
		}
		return execs[i].ID > execs[j].ID
	})
}

// NodeStatus is the outcome of a node within an execution.
type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// NodeLog records what happened to one node in one execution. PathID and
// Step place the entry in trace order; skipped entries have no path and
// use Step for graph order.
type NodeLog struct {
	ID           string     `json:"id"`
	ExecutionID  string     `json:"execution_id"`
	NodeID       string     `json:"node_id"`
	NodeType     NodeKind   `json:"node_type"`
	Status       NodeStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SkipReason   string     `json:"skip_reason,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	Output       any        `json:"output,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	Tolerated    bool       `json:"tolerated,omitempty"`
	PathID       string     `json:"path_id,omitempty"`
	Step         int        `json:"step"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	CompletedAt  time.Time  `json:"completed_at,omitzero"`
}

// SortNodeLogs orders logs by trace position: visited nodes by path and
// step, which yields a depth-first walk of the fan-out tree, followed by
// skipped nodes in graph order.
func SortNodeLogs(logs []*NodeLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if (a.PathID == "") != (b.PathID == "") {
			return a.PathID != ""
		}
		if c := comparePathIDs(a.PathID, b.PathID); c != 0 {
			return c < 0
		}
		return a.Step < b.Step
	})
}

// comparePathIDs compares hierarchical path ids such as "main.1.0".
// A path sorts before its descendants.
func comparePathIDs(a, b string) int {
	if a == b {
		return 0
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			return 1
		}
		return strings.Compare(as[i], bs[i])
	}
	if len(as) < len(bs) {
		return -1
	}
	return 1
}

// Suspension is a path parked by a logic_delay node. Step is the step the
// path will take next when it resumes after ResumeAt.
type Suspension struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	PathID      string    `json:"path_id"`
	NodeID      string    `json:"node_id"`
	Step        int       `json:"step"`
	ResumeAt    time.Time `json:"resume_at"`
	Scope       *Scope    `json:"scope"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionDetails is an execution with its node logs in trace order.
type ExecutionDetails struct {
	Execution *Execution `json:"execution"`
	NodeLogs  []*NodeLog `json:"node_logs"`
}
