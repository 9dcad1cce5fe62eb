// Package nodes provides the executors for every node kind and the
// collaborators they call.
package nodes

import (
	"net/http"
	"time"

	"github.com/deepnoodle-ai/automation"
	"golang.org/x/time/rate"
)

// Options configures the node executors.
type Options struct {
	Mailer Mailer
	Tasks  TaskService
	CRM    CRM

	// HTTPClient is used by action_http_request. Defaults to a pooled client.
	HTTPClient *http.Client
	// HTTPLimiter bounds the rate of outbound requests across all
	// executions. Defaults to unlimited.
	HTTPLimiter *rate.Limiter
	// HTTPTimeout applies when a node sets no timeout_seconds.
	HTTPTimeout time.Duration
	// RetryWait is the wait before the first retry of a failed request.
	RetryWait time.Duration
}

func (o *Options) setDefaults() {
	if o.Mailer == nil {
		o.Mailer = NewLogMailer()
	}
	if o.CRM == nil || o.Tasks == nil {
		crm := NewMemoryCRM()
		if o.CRM == nil {
			o.CRM = crm
		}
		if o.Tasks == nil {
			o.Tasks = crm
		}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient()
	}
	if o.HTTPLimiter == nil {
		o.HTTPLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 30 * time.Second
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 500 * time.Millisecond
	}
}

// NewRegistry returns a registry holding every node kind.
func NewRegistry(opts Options) *automation.Registry {
	r := automation.NewRegistry()
	Register(r, opts)
	return r
}

// Register adds every node kind to r. It panics if a kind is already
// registered.
func Register(r *automation.Registry, opts Options) {
	opts.setDefaults()

	for _, t := range automation.TriggerTypes() {
		r.MustRegister(&automation.NodeSpec{
			Kind:      t.Kind(),
			NewConfig: func() automation.NodeConfig { return &automation.TriggerConfig{} },
			Executor:  automation.NodeExecutorFunc(executeTrigger),
		})
	}

	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindSendEmail,
		Required:  []string{"to"},
		NewConfig: func() automation.NodeConfig { return &automation.SendEmailConfig{} },
		Executor:  &sendEmailExecutor{mailer: opts.Mailer},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindCreateTask,
		Required:  []string{"title"},
		NewConfig: func() automation.NodeConfig { return &automation.CreateTaskConfig{} },
		Executor:  &createTaskExecutor{tasks: opts.Tasks},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindUpdateLead,
		NewConfig: func() automation.NodeConfig { return &automation.UpdateLeadConfig{} },
		Executor:  &updateLeadExecutor{crm: opts.CRM},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindHTTPRequest,
		Required:  []string{"url"},
		NewConfig: func() automation.NodeConfig { return &automation.HTTPRequestConfig{} },
		Executor: &httpExecutor{
			client:    opts.HTTPClient,
			limiter:   opts.HTTPLimiter,
			timeout:   opts.HTTPTimeout,
			retryWait: opts.RetryWait,
		},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindSetVariable,
		Required:  []string{"key"},
		NewConfig: func() automation.NodeConfig { return &automation.SetVariableConfig{} },
		Executor:  automation.NodeExecutorFunc(executeSetVariable),
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindIfElse,
		Required:  []string{"field", "operator"},
		NewConfig: func() automation.NodeConfig { return &automation.IfElseConfig{} },
		Executor:  automation.NodeExecutorFunc(executeIfElse),
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindSwitch,
		Required:  []string{"field"},
		NewConfig: func() automation.NodeConfig { return &automation.SwitchConfig{} },
		Executor:  automation.NodeExecutorFunc(executeSwitch),
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindDelay,
		Required:  []string{"minutes"},
		NewConfig: func() automation.NodeConfig { return &automation.DelayConfig{} },
		Executor:  automation.NodeExecutorFunc(executeDelay),
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindMerge,
		NewConfig: func() automation.NodeConfig { return &automation.MergeConfig{} },
		Executor:  automation.NodeExecutorFunc(executeMerge),
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindGetLead,
		NewConfig: func() automation.NodeConfig { return &automation.GetLeadConfig{} },
		Executor:  &getLeadExecutor{crm: opts.CRM},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindGetCustomer,
		NewConfig: func() automation.NodeConfig { return &automation.GetCustomerConfig{} },
		Executor:  &getCustomerExecutor{crm: opts.CRM},
	})
	r.MustRegister(&automation.NodeSpec{
		Kind:      automation.KindTransform,
		Required:  []string{"mapping"},
		NewConfig: func() automation.NodeConfig { return &automation.TransformConfig{} },
		Executor:  automation.NodeExecutorFunc(executeTransform),
	})
}
