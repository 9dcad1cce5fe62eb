// Package api exposes workflow management, execution inspection, and
// webhook delivery over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const maxWebhookBody = 1 << 20

// Options configures a Server.
type Options struct {
	Service *automation.Service
	Logger  *slog.Logger
	// ServiceName names the server in traces. Defaults to "automation".
	ServiceName string
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	service *automation.Service
	logger  *slog.Logger
	echo    *echo.Echo
}

// NewServer builds the echo router with all routes registered.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "automation"
	}
	s := &Server{
		service: opts.Service,
		logger:  opts.Logger,
		echo:    echo.New(),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(opts.ServiceName))
	e.Use(s.requestLogger)

	e.GET("/health", s.Health)
	e.POST("/hooks/:token", s.ReceiveWebhook)

	v1 := e.Group("/api/v1")
	v1.GET("/workflows", s.ListWorkflows)
	v1.POST("/workflows", s.CreateWorkflow)
	v1.POST("/workflows/import", s.ImportWorkflow)
	v1.GET("/workflows/:id", s.GetWorkflow)
	v1.PUT("/workflows/:id", s.UpdateWorkflow)
	v1.DELETE("/workflows/:id", s.DeleteWorkflow)
	v1.POST("/workflows/:id/toggle", s.ToggleWorkflow)
	v1.POST("/workflows/:id/run", s.RunWorkflow)
	v1.POST("/workflows/:id/duplicate", s.DuplicateWorkflow)
	v1.GET("/workflows/:id/export", s.ExportWorkflow)
	v1.POST("/workflows/:id/webhook", s.GenerateWebhook)

	v1.GET("/executions", s.ListExecutions)
	v1.GET("/executions/:id", s.GetExecution)
	v1.POST("/executions/:id/cancel", s.CancelExecution)
	v1.POST("/executions/:id/replay", s.ReplayExecution)
	return s, nil
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Debug("http request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start))
		return err
	}
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health always returns 200 OK
// (GET /health)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok", Timestamp: time.Now().UTC()})
}

// ListWorkflows returns workflows in creation order, optionally filtered by
// trigger_type and enabled=true
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	filter := automation.WorkflowFilter{
		TriggerType: automation.TriggerType(c.QueryParam("trigger_type")),
	}
	if enabled := c.QueryParam("enabled"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid enabled parameter")
		}
		filter.EnabledOnly = v
	}
	workflows, err := s.service.ListWorkflows(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []*automation.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow validates and stores a workflow
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	w, err := bindWorkflow(c)
	if err != nil {
		return err
	}
	created, err := s.service.CreateWorkflow(c.Request().Context(), w)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

// GetWorkflow (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	w, err := s.service.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// UpdateWorkflow replaces a workflow definition
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	w, err := bindWorkflow(c)
	if err != nil {
		return err
	}
	w.ID = c.Param("id")
	updated, err := s.service.UpdateWorkflow(c.Request().Context(), w)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteWorkflow (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.service.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ToggleWorkflow flips the enabled flag
// (POST /api/v1/workflows/:id/toggle)
func (s *Server) ToggleWorkflow(c echo.Context) error {
	w, err := s.service.ToggleWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// RunWorkflow starts a test execution. The body, if any, is the trigger
// data; an empty body means {}
// (POST /api/v1/workflows/:id/run)
func (s *Server) RunWorkflow(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	trigger, err := decodeObject(body)
	if err != nil {
		return err
	}
	exec, err := s.service.RunWorkflow(c.Request().Context(), c.Param("id"), trigger)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, exec)
}

// DuplicateWorkflow (POST /api/v1/workflows/:id/duplicate)
func (s *Server) DuplicateWorkflow(c echo.Context) error {
	w, err := s.service.DuplicateWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

// ExportWorkflow returns the canvas document of a workflow
// (GET /api/v1/workflows/:id/export)
func (s *Server) ExportWorkflow(c echo.Context) error {
	data, err := s.service.ExportWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, data)
}

// ImportRequest is the body of an import call. CanvasData holds an
// exported canvas document.
type ImportRequest struct {
	Name       string          `json:"name"`
	CanvasData json.RawMessage `json:"canvas_data"`
}

// ImportWorkflow (POST /api/v1/workflows/import)
func (s *Server) ImportWorkflow(c echo.Context) error {
	var req ImportRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	w, err := s.service.ImportWorkflow(c.Request().Context(), req.CanvasData, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

// GenerateWebhook issues new webhook credentials
// (POST /api/v1/workflows/:id/webhook)
func (s *Server) GenerateWebhook(c echo.Context) error {
	info, err := s.service.GenerateWebhook(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// ListExecutions returns executions newest first
// (GET /api/v1/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	filter := automation.ExecutionFilter{
		WorkflowID: c.QueryParam("workflow_id"),
		Status:     automation.ExecutionStatus(c.QueryParam("status")),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
		}
		filter.Limit = n
	}
	execs, err := s.service.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if execs == nil {
		execs = []*automation.Execution{}
	}
	return c.JSON(http.StatusOK, execs)
}

// GetExecution returns an execution with its node logs
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	details, err := s.service.GetExecutionDetails(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, details)
}

// CancelExecution (POST /api/v1/executions/:id/cancel)
func (s *Server) CancelExecution(c echo.Context) error {
	if err := s.service.CancelExecution(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// ReplayExecution (POST /api/v1/executions/:id/replay)
func (s *Server) ReplayExecution(c echo.Context) error {
	exec, err := s.service.ReplayExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, exec)
}

// WebhookResponse lists the executions a webhook delivery started.
type WebhookResponse struct {
	Executions []string `json:"executions"`
}

// ReceiveWebhook authenticates a delivery with X-Webhook-Secret or
// X-Webhook-Signature and starts the owning workflow
// (POST /hooks/:token)
func (s *Server) ReceiveWebhook(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook body too large")
	}
	payload, err := decodeObject(body)
	if err != nil {
		return err
	}
	execs, err := s.service.ReceiveWebhook(req.Context(), c.Param("token"),
		req.Header.Get("X-Webhook-Secret"), req.Header.Get("X-Webhook-Signature"), body, payload)
	if err != nil {
		return err
	}
	resp := WebhookResponse{Executions: make([]string, 0, len(execs))}
	for _, exec := range execs {
		resp.Executions = append(resp.Executions, exec.ID)
	}
	return c.JSON(http.StatusAccepted, resp)
}

func bindWorkflow(c echo.Context) (*automation.Workflow, error) {
	var opts automation.Options
	if err := json.NewDecoder(c.Request().Body).Decode(&opts); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return &automation.Workflow{
		Name:        opts.Name,
		Description: opts.Description,
		TriggerType: opts.TriggerType,
		Enabled:     opts.Enabled,
		Graph:       opts.Canvas,
	}, nil
}

// decodeObject parses a JSON object body. An empty body is {}.
func decodeObject(body []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
