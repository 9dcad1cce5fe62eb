package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runner drives one execution. Paths run on their own goroutines and report
// back over the updates channel; the runner goroutine applies every update
// to the store, so writes for an execution are serialized.
type runner struct {
	engine *Engine
	id     string
	exec   *Execution
	nodes  map[string]*Node
	logger *slog.Logger

	updates   chan pathUpdate
	doneWg    sync.WaitGroup
	active    int
	cancelled atomic.Bool
	aborted   atomic.Bool
	fault     *EngineFault
}

// pathSeed is where a path starts or resumes.
type pathSeed struct {
	id     string
	nodeID string
	step   int
	scope  *Scope
}

// pathUpdate is sent by a path after each node and when the path ends.
type pathUpdate struct {
	pathID     string
	nodeID     string
	log        *NodeLog
	suspension *Suspension
	spawn      []pathSeed
	fault      *EngineFault
	done       bool
	failed     bool
}

func newRunner(e *Engine, executionID string) *runner {
	return &runner{
		engine:  e,
		id:      executionID,
		logger:  e.logger.With("execution_id", executionID),
		updates: make(chan pathUpdate, 100),
	}
}

func (r *runner) bind(exec *Execution) {
	r.exec = exec
	r.nodes = make(map[string]*Node, len(exec.Graph.Nodes))
	for _, n := range exec.Graph.Nodes {
		r.nodes[n.ID] = n
	}
	r.logger = r.logger.With("workflow_id", exec.WorkflowID)
}

func (r *runner) newScope() *Scope {
	scope := NewScope(r.exec.TriggerData)
	scope.ExecutionID = r.exec.ID
	scope.WorkflowID = r.exec.WorkflowID
	scope.Workflow = r.exec.WorkflowName
	return scope
}

func (r *runner) initialSeed() pathSeed {
	seed := pathSeed{id: "main", scope: r.newScope()}
	if trigger := r.exec.Graph.TriggerNode(); trigger != nil {
		seed.nodeID = trigger.ID
	}
	return seed
}

// next returns the seeds that continue a path after node. A single edge
// continues the same path; several edges end it and start one child path
// per edge, in edge order, each with its own copy of the scope.
func (r *runner) next(pathID string, step int, node *Node, branch string, scope *Scope) []pathSeed {
	edges := r.exec.Graph.OutgoingEdges(node.ID, branch)
	switch len(edges) {
	case 0:
		return nil
	case 1:
		return []pathSeed{{id: pathID, nodeID: edges[0].Target, step: step, scope: scope}}
	}
	seeds := make([]pathSeed, 0, len(edges))
	for i, edge := range edges {
		seeds = append(seeds, pathSeed{
			id:     fmt.Sprintf("%s.%d", pathID, i),
			nodeID: edge.Target,
			scope:  scope.Clone(),
		})
	}
	return seeds
}

func (r *runner) halted() bool {
	return r.cancelled.Load() || r.aborted.Load()
}

func (r *runner) setFault(nodeID, detail string) {
	if r.fault == nil {
		r.fault = &EngineFault{ExecutionID: r.id, NodeID: nodeID, Detail: detail}
		r.logger.Error("engine fault", "node_id", nodeID, "detail", detail)
	}
	r.aborted.Store(true)
}

// run executes the seeded paths until they all end, then finalizes the
// execution unless paths remain suspended.
func (r *runner) run(ctx context.Context, seeds []pathSeed) {
	defer r.engine.release(r)

	ctx, span := r.engine.tracer.Start(ctx, "automation.execution", trace.WithAttributes(
		attribute.String("execution.id", r.id),
		attribute.String("workflow.id", r.exec.WorkflowID),
		attribute.String("workflow.trigger_type", string(r.exec.TriggerType)),
	))
	defer span.End()

	resumed := r.exec.Status == ExecutionStatusRunning
	if !resumed {
		startedAt := r.engine.now()
		if err := r.engine.store.MarkExecutionRunning(ctx, r.id, startedAt); err != nil {
			if errors.Is(err, ErrExecutionFinalized) {
				r.logger.Info("execution finalized before it started")
				return
			}
			r.setFault("", fmt.Sprintf("failed to mark execution running: %v", err))
		} else {
			r.exec.Status = ExecutionStatusRunning
			r.exec.StartedAt = startedAt
		}
	}

	r.engine.callbacks.BeforeExecution(ctx, &ExecutionEvent{
		ExecutionID:  r.id,
		WorkflowID:   r.exec.WorkflowID,
		WorkflowName: r.exec.WorkflowName,
		TriggerType:  r.exec.TriggerType,
		Status:       r.exec.Status,
		Resumed:      resumed,
		StartTime:    r.exec.StartedAt,
	})
	if resumed {
		r.logger.Info("execution resumed", "paths", len(seeds))
	} else {
		r.logger.Info("execution started", "workflow", r.exec.WorkflowName)
	}

	if r.fault == nil {
		for _, seed := range seeds {
			if seed.nodeID == "" {
				r.setFault("", "execution graph has no trigger node")
				break
			}
			r.spawn(ctx, seed)
		}
	}

	for r.active > 0 {
		r.process(ctx, <-r.updates)
	}
	r.doneWg.Wait()

	r.finish(ctx)
	if r.fault != nil {
		span.SetStatus(codes.Error, r.fault.Error())
	}
}

func (r *runner) spawn(ctx context.Context, seed pathSeed) {
	p := &path{
		id:     seed.id,
		nodeID: seed.nodeID,
		step:   seed.step,
		scope:  seed.scope,
		runner: r,
	}
	r.active++
	r.engine.callbacks.BeforePath(ctx, &PathEvent{
		ExecutionID: r.id,
		WorkflowID:  r.exec.WorkflowID,
		PathID:      p.id,
		NodeID:      p.nodeID,
	})
	r.doneWg.Add(1)
	go func() {
		defer r.doneWg.Done()
		p.run(ctx)
	}()
}

func (r *runner) process(ctx context.Context, u pathUpdate) {
	if u.log != nil {
		if err := r.engine.store.AppendNodeLog(ctx, u.log); err != nil {
			r.setFault(u.log.NodeID, fmt.Sprintf("failed to record node log: %v", err))
		}
	}
	if u.fault != nil {
		r.setFault(u.fault.NodeID, u.fault.Detail)
	}
	if u.suspension != nil {
		if err := r.engine.store.SaveSuspension(ctx, u.suspension); err != nil {
			r.setFault(u.suspension.NodeID, fmt.Sprintf("failed to save suspension: %v", err))
		} else {
			r.logger.Info("path suspended",
				"path_id", u.pathID,
				"node_id", u.suspension.NodeID,
				"resume_at", u.suspension.ResumeAt)
		}
	}
	if u.done {
		r.active--
		r.engine.callbacks.AfterPath(ctx, &PathEvent{
			ExecutionID: r.id,
			WorkflowID:  r.exec.WorkflowID,
			PathID:      u.pathID,
			NodeID:      u.nodeID,
			Suspended:   u.suspension != nil,
			Failed:      u.failed,
		})
	}
	if r.aborted.Load() {
		return
	}
	for _, seed := range u.spawn {
		r.spawn(ctx, seed)
	}
}

// finish writes skipped logs and the terminal status. If paths are still
// suspended and nothing stopped the execution, it stays running and the
// runner gives up ownership instead.
func (r *runner) finish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	store := r.engine.store

	if r.fault == nil {
		pending, err := store.ListSuspensions(ctx, r.id)
		if err != nil {
			r.setFault("", fmt.Sprintf("failed to list suspensions: %v", err))
		} else {
			r.engine.mu.Lock()
			if !r.cancelled.Load() && len(pending) > 0 {
				if r.engine.active[r.id] == r {
					delete(r.engine.active, r.id)
				}
				r.engine.mu.Unlock()
				r.logger.Info("execution waiting on delays", "suspended_paths", len(pending))
				return
			}
			r.engine.mu.Unlock()
		}
	}

	cancelled := r.cancelled.Load()
	if cancelled || r.fault != nil {
		if err := store.DeleteSuspensions(ctx, r.id); err != nil {
			r.logger.Error("failed to delete suspensions", "error", err)
		}
	}

	logs, err := store.ListNodeLogs(ctx, r.id)
	if err != nil {
		r.setFault("", fmt.Sprintf("failed to list node logs: %v", err))
	}

	status, message := r.outcome(logs, cancelled)
	fallback := "not reached"
	switch {
	case r.fault != nil:
		fallback = "execution aborted"
	case cancelled:
		fallback = "execution cancelled"
	}
	now := r.engine.now()
	for _, skipped := range skippedNodeLogs(r.exec, logs, fallback, now) {
		if err := store.AppendNodeLog(ctx, skipped); err != nil {
			r.logger.Error("failed to record skipped node", "node_id", skipped.NodeID, "error", err)
		}
	}

	if err := store.FinishExecution(ctx, r.id, status, now, message); err != nil {
		if errors.Is(err, ErrExecutionFinalized) {
			r.logger.Warn("execution was already finalized")
		} else {
			r.logger.Error("failed to finalize execution", "error", err)
		}
		return
	}
	r.exec.Status = status
	r.exec.CompletedAt = now
	r.exec.ErrorMessage = message

	var execErr error
	if message != "" {
		execErr = errors.New(message)
	}
	start := r.exec.StartedAt
	if start.IsZero() {
		start = r.exec.CreatedAt
	}
	r.engine.callbacks.AfterExecution(ctx, &ExecutionEvent{
		ExecutionID:  r.id,
		WorkflowID:   r.exec.WorkflowID,
		WorkflowName: r.exec.WorkflowName,
		TriggerType:  r.exec.TriggerType,
		Status:       status,
		StartTime:    start,
		EndTime:      now,
		Duration:     now.Sub(start),
		Error:        execErr,
	})

	switch status {
	case ExecutionStatusFailed:
		r.logger.Error("execution failed", "error", message)
	case ExecutionStatusCancelled:
		r.logger.Info("execution cancelled")
	default:
		r.logger.Info("execution completed", "duration", now.Sub(start))
	}
}

// outcome derives the terminal status from the recorded node logs.
func (r *runner) outcome(logs []*NodeLog, cancelled bool) (ExecutionStatus, string) {
	if r.fault != nil {
		return ExecutionStatusFailed, r.fault.Error()
	}
	if cancelled {
		return ExecutionStatusCancelled, ""
	}
	ordered := append([]*NodeLog(nil), logs...)
	SortNodeLogs(ordered)
	for _, l := range ordered {
		if l.Status == NodeStatusFailed && !l.Tolerated {
			return ExecutionStatusFailed, fmt.Sprintf("node %q failed: %s", l.NodeID, l.ErrorMessage)
		}
	}
	return ExecutionStatusCompleted, ""
}
