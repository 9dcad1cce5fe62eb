package nodes

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/automation"
)

type getLeadExecutor struct {
	crm CRM
}

func (e *getLeadExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.GetLeadConfig)
	id := resolveRecordID(in, cfg.LeadID, "trigger.lead_id", "trigger.id")
	lead, err := e.crm.GetLead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	return &automation.NodeResult{Output: lead}, nil
}

type getCustomerExecutor struct {
	crm CRM
}

func (e *getCustomerExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.GetCustomerConfig)
	id := resolveRecordID(in, cfg.CustomerID, "trigger.customer_id", "trigger.id")
	customer, err := e.crm.GetCustomer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	return &automation.NodeResult{Output: customer}, nil
}

// executeTransform builds a new object from the mapping, resolving every
// placeholder it contains.
func executeTransform(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.TransformConfig)
	return &automation.NodeResult{Output: in.ResolveValue(cfg.Mapping)}, nil
}
