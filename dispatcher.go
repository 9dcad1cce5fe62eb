package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event is a business event that may start workflows. WorkflowID, when set,
// restricts matching to that one workflow, as for webhooks and manual runs.
type Event struct {
	Type       TriggerType    `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at,omitzero"`
}

// EventHandler receives events from an EventSource.
type EventHandler func(ctx context.Context, event Event) error

// EventSource delivers events from outside the process. Subscribe blocks
// until ctx is done or the source fails.
type EventSource interface {
	Name() string
	Subscribe(ctx context.Context, handle EventHandler) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Workflows WorkflowStore
	Engine    *Engine
	Logger    *slog.Logger
}

// Dispatcher matches events to enabled workflows and hands each match to
// the engine. It never executes nodes itself.
type Dispatcher struct {
	workflows WorkflowStore
	engine    *Engine
	logger    *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Workflows == nil {
		return nil, fmt.Errorf("workflow store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		workflows: opts.Workflows,
		engine:    opts.Engine,
		logger:    opts.Logger,
	}, nil
}

// Dispatch starts one execution per enabled workflow whose trigger type
// matches the event. A failure to start one workflow does not prevent the
// others from starting; all such failures are joined in the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) ([]*Execution, error) {
	if !event.Type.Valid() {
		return nil, fmt.Errorf("unsupported trigger type %q", event.Type)
	}
	matches, err := d.match(ctx, event)
	if err != nil {
		return nil, err
	}
	var started []*Execution
	var errs []error
	for _, w := range matches {
		exec, err := d.engine.Start(ctx, w, event.Payload)
		if err != nil {
			d.logger.Error("failed to start workflow",
				"workflow_id", w.ID, "trigger_type", event.Type, "error", err)
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			continue
		}
		d.logger.Info("workflow triggered",
			"workflow_id", w.ID, "execution_id", exec.ID, "trigger_type", event.Type)
		started = append(started, exec)
	}
	return started, errors.Join(errs...)
}

func (d *Dispatcher) match(ctx context.Context, event Event) ([]*Workflow, error) {
	if event.WorkflowID != "" {
		w, err := d.workflows.GetWorkflow(ctx, event.WorkflowID)
		if err != nil {
			return nil, err
		}
		if !w.Enabled || w.TriggerType != event.Type {
			return nil, nil
		}
		return []*Workflow{w}, nil
	}
	return d.workflows.ListWorkflows(ctx, WorkflowFilter{TriggerType: event.Type, EnabledOnly: true})
}

// Handle is an EventHandler that dispatches the event.
func (d *Dispatcher) Handle(ctx context.Context, event Event) error {
	_, err := d.Dispatch(ctx, event)
	return err
}

// Run subscribes to every source and blocks until ctx is done or a source
// fails. The first source error cancels the other sources.
func (d *Dispatcher) Run(ctx context.Context, sources ...EventSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, source := range sources {
		wg.Add(1)
		go func(source EventSource) {
			defer wg.Done()
			d.logger.Info("event source subscribed", "source", source.Name())
			err := source.Subscribe(ctx, d.Handle)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("event source stopped", "source", source.Name(), "error", err)
				once.Do(func() {
					firstErr = fmt.Errorf("event source %s: %w", source.Name(), err)
					cancel()
				})
			}
		}(source)
	}
	wg.Wait()
	return firstErr
}
