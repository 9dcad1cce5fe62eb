package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/deepnoodle-ai/automation"

// EngineOptions configures an Engine.
type EngineOptions struct {
	Registry  *Registry
	Store     ExecutionStore
	Logger    *slog.Logger
	Callbacks ExecutionCallbacks
	Tracer    trace.Tracer
	// Now returns the current time. Tests replace it to control delays.
	Now func() time.Time
}

// Engine runs workflow executions. At most one runner is active for an
// execution at any time; it is the only writer of that execution's status,
// node logs, and suspensions.
type Engine struct {
	registry  *Registry
	store     ExecutionStore
	logger    *slog.Logger
	callbacks ExecutionCallbacks
	tracer    trace.Tracer
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*runner
	wg     sync.WaitGroup
}

// NewEngine returns an engine. Registry and Store are required.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		registry:  opts.Registry,
		store:     opts.Store,
		logger:    opts.Logger,
		callbacks: opts.Callbacks,
		tracer:    opts.Tracer,
		now:       opts.Now,
		active:    map[string]*runner{},
	}, nil
}

// Registry returns the node registry used by the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start records a pending execution of the workflow and runs it in the
// background. It returns as soon as the execution is persisted.
func (e *Engine) Start(ctx context.Context, w *Workflow, trigger map[string]any) (*Execution, error) {
	exec, err := e.create(ctx, w, trigger)
	if err != nil {
		return nil, err
	}
	r, _ := e.acquire(exec.ID)
	r.bind(exec)
	e.launch(ctx, r, []pathSeed{r.initialSeed()})
	return exec.Clone(), nil
}

// Run executes the workflow and blocks until the execution completes,
// fails, is cancelled, or suspends on a delay. The stored execution is
// returned.
func (e *Engine) Run(ctx context.Context, w *Workflow, trigger map[string]any) (*Execution, error) {
	exec, err := e.create(ctx, w, trigger)
	if err != nil {
		return nil, err
	}
	r, _ := e.acquire(exec.ID)
	r.bind(exec)
	r.run(ctx, []pathSeed{r.initialSeed()})
	return e.store.GetExecution(context.WithoutCancel(ctx), exec.ID)
}

// Replay starts a new execution from the graph snapshot and trigger data of
// an earlier one.
func (e *Engine) Replay(ctx context.Context, executionID string) (*Execution, error) {
	prior, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	w := &Workflow{
		ID:          prior.WorkflowID,
		Name:        prior.WorkflowName,
		TriggerType: prior.TriggerType,
		Graph:       prior.Graph,
	}
	return e.Start(ctx, w, prior.TriggerData)
}

func (e *Engine) create(ctx context.Context, w *Workflow, trigger map[string]any) (*Execution, error) {
	if w == nil || w.Graph == nil {
		return nil, fmt.Errorf("workflow graph is required")
	}
	exec := &Execution{
		ID:           NewExecutionID(),
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		TriggerType:  w.TriggerType,
		TriggerData:  NormalizeMap(trigger),
		Graph:        w.Graph.Clone(),
		Status:       ExecutionStatusPending,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return exec, nil
}

// Cancel requests cancellation of an execution. Running paths stop before
// their next node; a call already in flight is allowed to finish. An
// execution that is only waiting on delays is finalized immediately.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	if r, ok := e.active[executionID]; ok {
		r.cancelled.Store(true)
		e.mu.Unlock()
		return nil
	}
	r := newRunner(e, executionID)
	r.cancelled.Store(true)
	e.active[executionID] = r
	e.mu.Unlock()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		e.release(r)
		return err
	}
	if exec.Status.Terminal() {
		e.release(r)
		return ErrExecutionFinalized
	}
	r.bind(exec)
	r.finish(ctx)
	e.release(r)
	return nil
}

// ResumeDue resumes every suspended path whose delay has elapsed. Paths of
// an execution that already has an active runner are left for a later call.
// It returns the number of paths resumed.
func (e *Engine) ResumeDue(ctx context.Context) (int, error) {
	due, err := e.store.ListDueSuspensions(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due suspensions: %w", err)
	}
	var order []string
	byExecution := map[string][]*Suspension{}
	for _, s := range due {
		if _, seen := byExecution[s.ExecutionID]; !seen {
			order = append(order, s.ExecutionID)
		}
		byExecution[s.ExecutionID] = append(byExecution[s.ExecutionID], s)
	}

	resumed := 0
	for _, executionID := range order {
		r, ok := e.acquire(executionID)
		if !ok {
			continue
		}
		n, err := e.resume(ctx, r, byExecution[executionID])
		if err != nil {
			e.release(r)
			e.logger.Error("failed to resume execution", "execution_id", executionID, "error", err)
			continue
		}
		resumed += n
	}
	return resumed, nil
}

func (e *Engine) resume(ctx context.Context, r *runner, due []*Suspension) (int, error) {
	exec, err := e.store.GetExecution(ctx, r.id)
	if err != nil {
		return 0, err
	}
	if exec.Status.Terminal() {
		e.release(r)
		return 0, e.store.DeleteSuspensions(ctx, r.id)
	}
	r.bind(exec)
	var seeds []pathSeed
	claimed := 0
	for _, s := range due {
		ok, err := e.store.ClaimSuspension(ctx, s.ID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		claimed++
		node, found := r.nodes[s.NodeID]
		if !found {
			r.logger.Warn("suspended node missing from graph", "node_id", s.NodeID)
			continue
		}
		scope := s.Scope
		if scope == nil {
			scope = r.newScope()
		}
		seeds = append(seeds, r.next(s.PathID, s.Step, node, "", scope)...)
	}
	if claimed == 0 {
		e.release(r)
		return 0, nil
	}
	r.logger.Info("resuming execution", "paths", claimed)
	e.launch(ctx, r, seeds)
	return claimed, nil
}

// RunScheduler calls ResumeDue every interval until ctx is done.
func (e *Engine) RunScheduler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := e.ResumeDue(ctx)
			if err != nil {
				e.logger.Error("delay scheduler tick failed", "error", err)
			} else if n > 0 {
				e.logger.Debug("resumed delayed paths", "count", n)
			}
		}
	}
}

// Wait blocks until every execution started in the background has
// finished or suspended.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// IsActive reports whether a runner currently owns the execution.
func (e *Engine) IsActive(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[executionID]
	return ok
}

func (e *Engine) acquire(executionID string) (*runner, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.active[executionID]; exists {
		return nil, false
	}
	r := newRunner(e, executionID)
	e.active[executionID] = r
	return r, true
}

func (e *Engine) release(r *runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[r.id] == r {
		delete(e.active, r.id)
	}
}

// launch runs r on a new goroutine. The execution outlives the request
// that started it, so cancellation of ctx is not propagated.
func (e *Engine) launch(ctx context.Context, r *runner, seeds []pathSeed) {
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.run(ctx, seeds)
	}()
}

// ExecutionError returns the stored error of a finished execution as an
// error value, or nil if it did not fail.
func ExecutionError(exec *Execution) error {
	if exec == nil || exec.Status != ExecutionStatusFailed {
		return nil
	}
	if exec.ErrorMessage == "" {
		return errors.New("execution failed")
	}
	return errors.New(exec.ErrorMessage)
}
