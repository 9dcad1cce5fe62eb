package api

import (
	"errors"
	"net/http"

	"github.com/deepnoodle-ai/automation"
	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, ErrorDetail) {
	var verr *automation.GraphValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorDetail{
			Code:    verr.Code,
			Message: verr.Message,
			NodeID:  verr.NodeID,
			EdgeID:  verr.EdgeID,
			Field:   verr.Field,
		}
	case errors.Is(err, automation.ErrWorkflowNotFound):
		return http.StatusNotFound, ErrorDetail{Code: "workflow_not_found", Message: err.Error()}
	case errors.Is(err, automation.ErrExecutionNotFound):
		return http.StatusNotFound, ErrorDetail{Code: "execution_not_found", Message: err.Error()}
	case errors.Is(err, automation.ErrExecutionFinalized):
		return http.StatusConflict, ErrorDetail{Code: "execution_finalized", Message: err.Error()}
	case errors.Is(err, automation.ErrInvalidWebhookAuth):
		return http.StatusUnauthorized, ErrorDetail{Code: "invalid_webhook_auth", Message: err.Error()}
	case errors.Is(err, automation.ErrNotWebhookWorkflow):
		return http.StatusBadRequest, ErrorDetail{Code: "not_webhook_workflow", Message: err.Error()}
	}
	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		msg, ok := herr.Message.(string)
		if !ok {
			msg = http.StatusText(herr.Code)
		}
		return herr.Code, ErrorDetail{Code: codeForStatus(herr.Code), Message: msg}
	}
	return http.StatusInternalServerError, ErrorDetail{Code: "internal", Message: err.Error()}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	return "internal"
}

// errorHandler renders errors returned by handlers as ErrorBody.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorBody{Error: detail})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", "error", err)
	}
}
