package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// path is one continuation of an execution. It walks single edges inline
// and ends when it reaches a terminal node, a failure, a delay, or a
// fan-out point.
type path struct {
	id     string
	nodeID string
	step   int
	scope  *Scope
	runner *runner
}

func (p *path) send(u pathUpdate) {
	u.pathID = p.id
	if u.nodeID == "" {
		u.nodeID = p.nodeID
	}
	p.runner.updates <- u
}

func (p *path) run(ctx context.Context) {
	r := p.runner
	for {
		if r.halted() {
			p.send(pathUpdate{done: true})
			return
		}
		node, ok := r.nodes[p.nodeID]
		if !ok {
			p.send(pathUpdate{done: true, fault: &EngineFault{
				ExecutionID: r.id,
				NodeID:      p.nodeID,
				Detail:      fmt.Sprintf("node %q is not in the execution graph", p.nodeID),
			}})
			return
		}

		log, result, fault := p.execute(ctx, node)
		if fault != nil {
			p.send(pathUpdate{log: log, fault: fault, done: true})
			return
		}
		update := pathUpdate{log: log}

		if log.Status == NodeStatusFailed && !log.Tolerated {
			update.done = true
			update.failed = true
			p.send(update)
			return
		}

		if log.Status == NodeStatusSuccess && result.Delay > 0 {
			update.suspension = &Suspension{
				ID:          NewSuspensionID(),
				ExecutionID: r.id,
				PathID:      p.id,
				NodeID:      node.ID,
				Step:        p.step + 1,
				ResumeAt:    log.StartedAt.Add(result.Delay),
				Scope:       p.scope.Clone(),
				CreatedAt:   log.CompletedAt,
			}
			update.done = true
			p.send(update)
			return
		}

		seeds := r.next(p.id, p.step+1, node, result.Branch, p.scope)
		if len(seeds) == 1 && seeds[0].id == p.id {
			p.send(update)
			p.nodeID = seeds[0].nodeID
			p.step = seeds[0].step
			continue
		}
		update.spawn = seeds
		update.done = true
		p.send(update)
		return
	}
}

// execute runs one node and records the outcome in a node log and in the
// path scope. A fault is returned only for problems of the engine itself.
func (p *path) execute(ctx context.Context, node *Node) (*NodeLog, *NodeResult, *EngineFault) {
	r := p.runner
	e := r.engine

	spec, ok := e.registry.Get(node.Kind)
	if !ok {
		return nil, nil, &EngineFault{
			ExecutionID: r.id,
			NodeID:      node.ID,
			Detail:      fmt.Sprintf("no executor registered for node type %q", node.Kind),
		}
	}

	ctx, span := e.tracer.Start(ctx, "automation.node", trace.WithAttributes(
		attribute.String("execution.id", r.id),
		attribute.String("node.id", node.ID),
		attribute.String("node.kind", string(node.Kind)),
		attribute.String("path.id", p.id),
	))
	defer span.End()

	startedAt := e.now()
	log := &NodeLog{
		ID:          NewNodeLogID(),
		ExecutionID: r.id,
		NodeID:      node.ID,
		NodeType:    node.Kind,
		PathID:      p.id,
		Step:        p.step,
		StartedAt:   startedAt,
	}
	event := &NodeEvent{
		ExecutionID: r.id,
		WorkflowID:  r.exec.WorkflowID,
		PathID:      p.id,
		NodeID:      node.ID,
		Kind:        node.Kind,
		StartTime:   startedAt,
	}
	e.callbacks.BeforeNode(ctx, event)

	logger := r.logger.With("path_id", p.id, "node_id", node.ID, "node_type", node.Kind)
	ctx = WithLogger(ctx, logger)
	ctx = WithExecutionID(ctx, r.id)
	var in *NodeInput
	result := &NodeResult{}
	cfg, err := e.registry.Decode(node)
	if err == nil {
		in = &NodeInput{
			ExecutionID: r.id,
			WorkflowID:  r.exec.WorkflowID,
			PathID:      p.id,
			Node:        node,
			Config:      cfg,
			Scope:       p.scope,
			Logger:      logger,
			Now:         startedAt,
		}
		var out *NodeResult
		out, err = p.invoke(ctx, spec.Executor, in)
		var panicked *executorPanic
		if errors.As(err, &panicked) {
			span.SetStatus(codes.Error, panicked.Error())
			return nil, nil, &EngineFault{ExecutionID: r.id, NodeID: node.ID, Detail: panicked.Error()}
		}
		if out != nil {
			result = out
		}
	}

	log.CompletedAt = e.now()
	if in != nil {
		log.Warnings = in.Warnings()
	}
	if err != nil {
		nodeErr := ClassifyError(node, err)
		if cfg == nil {
			nodeErr.Type = ErrorTypeInvalidConfig
		}
		log.Status = NodeStatusFailed
		log.ErrorMessage = nodeErr.Error()
		log.Tolerated = Tolerant(cfg)
		log.Output = map[string]any{"error": nodeErr.Error(), "error_type": nodeErr.Type}
		p.scope.SetOutput(node.ID, log.Output)
		result = &NodeResult{}
		span.RecordError(err)
		span.SetStatus(codes.Error, nodeErr.Error())
		logger.Warn("node failed", "error", nodeErr.Error(), "tolerated", log.Tolerated)
		event.Error = nodeErr
	} else {
		log.Status = NodeStatusSuccess
		log.Output = NormalizeValue(result.Output)
		log.Branch = result.Branch
		p.scope.SetOutput(node.ID, log.Output)
		for k, v := range result.Vars {
			p.scope.SetVar(k, NormalizeValue(v))
		}
		logger.Debug("node completed", "branch", result.Branch)
	}

	event.Status = log.Status
	event.Output = log.Output
	event.EndTime = log.CompletedAt
	event.Duration = log.CompletedAt.Sub(startedAt)
	e.callbacks.AfterNode(ctx, event)
	return log, result, nil
}

type executorPanic struct {
	value any
}

func (e *executorPanic) Error() string {
	return fmt.Sprintf("executor panicked: %v", e.value)
}

// invoke calls the executor, converting a panic into an *executorPanic.
func (p *path) invoke(ctx context.Context, executor NodeExecutor, in *NodeInput) (result *NodeResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.runner.logger.Error("node executor panicked",
				"node_id", in.Node.ID, "panic", rec, "stack", string(debug.Stack()))
			result, err = nil, &executorPanic{value: rec}
		}
	}()
	return executor.Execute(ctx, in)
}
