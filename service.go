package automation

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 500
	defaultImportName     = "Imported workflow"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Store  Store
	Engine *Engine
	Logger *slog.Logger
	// WebhookBaseURL prefixes generated webhook URLs, e.g.
	// "https://crm.example.com".
	WebhookBaseURL string
	Now            func() time.Time
}

// Service is the public surface for managing workflows and inspecting
// their executions.
type Service struct {
	store          Store
	engine         *Engine
	registry       *Registry
	dispatcher     *Dispatcher
	logger         *slog.Logger
	webhookBaseURL string
	now            func() time.Time
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dispatcher, err := NewDispatcher(DispatcherOptions{
		Workflows: opts.Store,
		Engine:    opts.Engine,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		store:          opts.Store,
		engine:         opts.Engine,
		registry:       opts.Engine.Registry(),
		dispatcher:     dispatcher,
		logger:         opts.Logger,
		webhookBaseURL: strings.TrimRight(opts.WebhookBaseURL, "/"),
		now:            opts.Now,
	}, nil
}

// Dispatcher returns the dispatcher used for webhook and source events.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Service) validate(w *Workflow) error {
	w.normalize()
	if err := w.Validate(); err != nil {
		return err
	}
	return s.registry.ValidateGraph(w.Graph)
}

// CreateWorkflow validates and stores a new workflow. Webhook workflows
// receive a token and secret.
func (s *Service) CreateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error) {
	w = w.Clone()
	if err := s.validate(w); err != nil {
		return nil, err
	}
	w.ID = NewWorkflowID()
	now := s.now()
	w.CreatedAt, w.UpdatedAt = now, now
	w.WebhookToken, w.WebhookSecret = "", ""
	if w.TriggerType == TriggerWebhook {
		if err := assignWebhookCredentials(w); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateWorkflow(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	s.logger.Info("workflow created", "workflow_id", w.ID, "name", w.Name)
	return w, nil
}

// UpdateWorkflow replaces the definition of an existing workflow. Running
// executions keep the graph snapshot they started with.
func (s *Service) UpdateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error) {
	existing, err := s.store.GetWorkflow(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	w = w.Clone()
	if err := s.validate(w); err != nil {
		return nil, err
	}
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = s.now()
	w.WebhookToken, w.WebhookSecret = existing.WebhookToken, existing.WebhookSecret
	if w.TriggerType == TriggerWebhook && w.WebhookToken == "" {
		if err := assignWebhookCredentials(w); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWorkflow removes a workflow. Its executions remain available.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workflow deleted", "workflow_id", id)
	return nil
}

func (s *Service) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

func (s *Service) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	return s.store.ListWorkflows(ctx, filter)
}

// ToggleWorkflow flips the enabled flag and returns the updated workflow.
func (s *Service) ToggleWorkflow(ctx context.Context, id string) (*Workflow, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Enabled = !w.Enabled
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// SetEnabled sets the enabled flag. Setting it to its current value is a
// no-op.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Workflow, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Enabled == enabled {
		return w, nil
	}
	w.Enabled = enabled
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// RunWorkflow starts a test execution with the given trigger data. It does
// not require the workflow to be enabled.
func (s *Service) RunWorkflow(ctx context.Context, id string, triggerData map[string]any) (*Execution, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if triggerData == nil {
		triggerData = map[string]any{}
	}
	return s.engine.Start(ctx, w, triggerData)
}

// ListExecutions returns executions newest first. The limit defaults to 50
// and is capped at 500.
func (s *Service) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultExecutionLimit
	case filter.Limit > maxExecutionLimit:
		filter.Limit = maxExecutionLimit
	}
	return s.store.ListExecutions(ctx, filter)
}

// GetExecutionDetails returns an execution and its node logs in trace
// order.
func (s *Service) GetExecutionDetails(ctx context.Context, id string) (*ExecutionDetails, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListNodeLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	SortNodeLogs(logs)
	return &ExecutionDetails{Execution: exec, NodeLogs: logs}, nil
}

func (s *Service) CancelExecution(ctx context.Context, id string) error {
	return s.engine.Cancel(ctx, id)
}

// ReplayExecution starts a new execution with the graph and trigger data
// of an earlier one.
func (s *Service) ReplayExecution(ctx context.Context, id string) (*Execution, error) {
	return s.engine.Replay(ctx, id)
}

// DuplicateWorkflow copies a workflow under the name "<name> (copy)". The
// copy starts disabled.
func (s *Service) DuplicateWorkflow(ctx context.Context, id string) (*Workflow, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := w.Clone()
	cp.Name = w.Name + " (copy)"
	cp.Enabled = false
	return s.CreateWorkflow(ctx, cp)
}

// ExportWorkflow returns the canvas_data document of a workflow.
func (s *Service) ExportWorkflow(ctx context.Context, id string) ([]byte, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.Graph.MarshalCanvas()
}

// ImportWorkflow creates a disabled workflow from a canvas_data document.
// The graph is validated like any other definition.
func (s *Service) ImportWorkflow(ctx context.Context, canvas []byte, name string) (*Workflow, error) {
	g, err := ParseCanvas(canvas)
	if err != nil {
		return nil, &GraphValidationError{Code: CodeInvalidWorkflow, Field: "canvas_data", Message: err.Error()}
	}
	if strings.TrimSpace(name) == "" {
		name = defaultImportName
	}
	return s.CreateWorkflow(ctx, &Workflow{Name: name, Graph: g})
}

// WebhookInfo is what a caller needs to deliver webhooks to a workflow.
type WebhookInfo struct {
	WorkflowID string `json:"workflow_id"`
	Token      string `json:"token"`
	Secret     string `json:"secret"`
	URL        string `json:"url"`
}

// GenerateWebhook issues a new token and secret for a webhook workflow,
// invalidating the previous ones.
func (s *Service) GenerateWebhook(ctx context.Context, id string) (*WebhookInfo, error) {
	w, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.TriggerType != TriggerWebhook {
		return nil, ErrNotWebhookWorkflow
	}
	if err := assignWebhookCredentials(w); err != nil {
		return nil, err
	}
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	return &WebhookInfo{
		WorkflowID: w.ID,
		Token:      w.WebhookToken,
		Secret:     w.WebhookSecret,
		URL:        s.webhookBaseURL + "/hooks/" + w.WebhookToken,
	}, nil
}

// ReceiveWebhook authenticates a webhook delivery and dispatches it to the
// workflow owning the token. Either the shared secret or an HMAC-SHA256
// signature of the body ("sha256=<hex>") is accepted.
func (s *Service) ReceiveWebhook(ctx context.Context, token, secret, signature string, body []byte, payload map[string]any) ([]*Execution, error) {
	w, err := s.store.GetWorkflowByWebhookToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !VerifyWebhook(w.WebhookSecret, secret, signature, body) {
		return nil, ErrInvalidWebhookAuth
	}
	return s.dispatcher.Dispatch(ctx, Event{
		Type:       TriggerWebhook,
		WorkflowID: w.ID,
		Payload:    payload,
		ReceivedAt: s.now(),
	})
}

// VerifyWebhook checks a presented secret or body signature against the
// workflow secret in constant time.
func VerifyWebhook(expected, secret, signature string, body []byte) bool {
	if expected == "" {
		return false
	}
	if secret != "" {
		return hmac.Equal([]byte(secret), []byte(expected))
	}
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(given, SignWebhook(expected, body))
}

// SignWebhook returns the HMAC-SHA256 of body keyed by secret.
func SignWebhook(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func assignWebhookCredentials(w *Workflow) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	w.WebhookToken = uuid.NewString()
	w.WebhookSecret = hex.EncodeToString(secret)
	return nil
}
