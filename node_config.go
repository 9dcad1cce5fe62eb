package automation

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// NodeConfig is the decoded configuration of a node. Every config type
// embeds Common, which carries the settings shared by all kinds.
type NodeConfig interface {
	common() *Common
}

// Common holds settings understood by every node kind.
type Common struct {
	// ContinueOnError lets the path continue past a failure of this node.
	ContinueOnError bool `mapstructure:"continue_on_error" json:"continue_on_error,omitempty"`
}

func (c *Common) common() *Common { return c }

// Tolerant reports whether a failure of the node should not end its path.
func Tolerant(cfg NodeConfig) bool {
	return cfg != nil && cfg.common().ContinueOnError
}

type configValidator interface {
	validate() error
}

type TriggerConfig struct {
	Common `mapstructure:",squash"`
}

type SendEmailConfig struct {
	Common     `mapstructure:",squash"`
	To         string `mapstructure:"to"`
	Cc         string `mapstructure:"cc"`
	Subject    string `mapstructure:"subject"`
	Body       string `mapstructure:"body"`
	TemplateID string `mapstructure:"template_id"`
}

type CreateTaskConfig struct {
	Common      `mapstructure:",squash"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	AssigneeID  string `mapstructure:"assignee_id"`
	Priority    string `mapstructure:"priority"`
	DueInDays   int    `mapstructure:"due_in_days"`
}

func (c *CreateTaskConfig) validate() error {
	if c.DueInDays < 0 {
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "due_in_days", Message: "must not be negative"}
	}
	switch c.Priority {
	case "", "low", "medium", "high", "urgent":
		return nil
	}
	return &GraphValidationError{Code: CodeInvalidConfig, Field: "priority",
		Message: fmt.Sprintf("unsupported priority %q", c.Priority)}
}

type UpdateLeadConfig struct {
	Common `mapstructure:",squash"`
	LeadID string `mapstructure:"lead_id"`
	Status string `mapstructure:"status"`
	Score  string `mapstructure:"score"`
	Notes  string `mapstructure:"notes"`
}

type HTTPRequestConfig struct {
	Common         `mapstructure:",squash"`
	URL            string            `mapstructure:"url"`
	Method         string            `mapstructure:"method"`
	Headers        map[string]string `mapstructure:"headers"`
	Body           any               `mapstructure:"body"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Retries        int               `mapstructure:"retries"`
}

func (c *HTTPRequestConfig) validate() error {
	switch strings.ToUpper(c.Method) {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
	default:
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "method",
			Message: fmt.Sprintf("unsupported method %q", c.Method)}
	}
	if c.TimeoutSeconds < 0 {
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "timeout_seconds", Message: "must not be negative"}
	}
	if c.Retries < 0 || c.Retries > 10 {
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "retries", Message: "must be between 0 and 10"}
	}
	return nil
}

type SetVariableConfig struct {
	Common `mapstructure:",squash"`
	Key    string `mapstructure:"key"`
	Value  any    `mapstructure:"value"`
}

type IfElseConfig struct {
	Common   `mapstructure:",squash"`
	Field    string   `mapstructure:"field"`
	Operator Operator `mapstructure:"operator"`
	Value    string   `mapstructure:"value"`
}

func (c *IfElseConfig) validate() error {
	if !c.Operator.Valid() {
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "operator",
			Message: fmt.Sprintf("unsupported operator %q", c.Operator)}
	}
	return nil
}

type SwitchConfig struct {
	Common `mapstructure:",squash"`
	Field  string   `mapstructure:"field"`
	Cases  []string `mapstructure:"cases"`
}

type DelayConfig struct {
	Common  `mapstructure:",squash"`
	Minutes float64 `mapstructure:"minutes"`
}

func (c *DelayConfig) validate() error {
	if c.Minutes < 0 {
		return &GraphValidationError{Code: CodeInvalidConfig, Field: "minutes", Message: "must not be negative"}
	}
	return nil
}

// MergeConfig configures logic_merge. A merge node is not a barrier: each
// continuation that reaches it runs it and every node after it, so side
// effects downstream of a diamond happen once per arriving continuation.
type MergeConfig struct {
	Common `mapstructure:",squash"`
}

type GetLeadConfig struct {
	Common `mapstructure:",squash"`
	LeadID string `mapstructure:"lead_id"`
}

type GetCustomerConfig struct {
	Common     `mapstructure:",squash"`
	CustomerID string `mapstructure:"customer_id"`
}

type TransformConfig struct {
	Common  `mapstructure:",squash"`
	Mapping map[string]any `mapstructure:"mapping"`
}

// decodeConfig decodes a raw node config into target. Scalars are converted
// loosely, so a score of 80 decodes into a string field as "80".
func decodeConfig(raw map[string]any, target NodeConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return decoder.Decode(raw)
}
