package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
)

// executeTrigger exposes the trigger payload as the trigger node's output.
func executeTrigger(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	return &automation.NodeResult{Output: in.Scope.Trigger}, nil
}

type sendEmailExecutor struct {
	mailer Mailer
}

func (e *sendEmailExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.SendEmailConfig)
	email := Email{
		To:         splitAddresses(in.Resolve(cfg.To)),
		Cc:         splitAddresses(in.Resolve(cfg.Cc)),
		Subject:    in.Resolve(cfg.Subject),
		Body:       in.Resolve(cfg.Body),
		TemplateID: in.Resolve(cfg.TemplateID),
	}
	messageID, err := e.mailer.Send(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	return &automation.NodeResult{Output: map[string]any{
		"message_id": messageID,
		"to":         strings.Join(email.To, ", "),
		"subject":    email.Subject,
		"status":     "sent",
	}}, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type createTaskExecutor struct {
	tasks TaskService
}

func (e *createTaskExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.CreateTaskConfig)
	task := Task{
		Title:       in.Resolve(cfg.Title),
		Description: in.Resolve(cfg.Description),
		AssigneeID:  in.Resolve(cfg.AssigneeID),
		Priority:    cfg.Priority,
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if cfg.DueInDays > 0 {
		task.DueDate = in.Now.AddDate(0, 0, cfg.DueInDays).UTC()
	}
	if leadID, ok := automation.Lookup(in.Scope, "trigger.lead_id"); ok {
		task.LeadID = automation.Stringify(leadID)
	}
	taskID, err := e.tasks.CreateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	output := map[string]any{
		"task_id":  taskID,
		"title":    task.Title,
		"priority": task.Priority,
	}
	if !task.DueDate.IsZero() {
		output["due_date"] = task.DueDate.Format(time.RFC3339)
	}
	if task.AssigneeID != "" {
		output["assignee_id"] = task.AssigneeID
	}
	return &automation.NodeResult{Output: output}, nil
}

type updateLeadExecutor struct {
	crm CRM
}

func (e *updateLeadExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.UpdateLeadConfig)
	leadID := resolveRecordID(in, cfg.LeadID, "trigger.lead_id", "trigger.id")
	if leadID == "" {
		in.Warn("no lead id in config or trigger data; the CRM creates a new lead")
	}
	fields := map[string]any{}
	if status := in.Resolve(cfg.Status); status != "" {
		fields["status"] = status
	}
	if raw := in.Resolve(cfg.Score); raw != "" {
		score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("score %q is not a number", raw)
		}
		fields["score"] = score
	}
	if notes := in.Resolve(cfg.Notes); notes != "" {
		fields["notes"] = notes
	}
	lead, err := e.crm.UpdateLead(ctx, leadID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update lead: %w", err)
	}
	if id, ok := lead["id"]; ok && leadID == "" {
		leadID = automation.Stringify(id)
	}
	return &automation.NodeResult{Output: map[string]any{
		"lead_id": leadID,
		"updated": fields,
		"lead":    lead,
	}}, nil
}

// resolveRecordID resolves an explicit id template, falling back to the
// first of the given paths present in the scope.
func resolveRecordID(in *automation.NodeInput, configured string, fallbacks ...string) string {
	if strings.TrimSpace(configured) != "" {
		return strings.TrimSpace(in.Resolve(configured))
	}
	for _, path := range fallbacks {
		if v, ok := automation.Lookup(in.Scope, path); ok && v != nil {
			return automation.Stringify(v)
		}
	}
	return ""
}

// executeSetVariable assigns vars.<key> on the current path.
func executeSetVariable(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.SetVariableConfig)
	key := strings.TrimSpace(in.Resolve(cfg.Key))
	value := in.ResolveValue(cfg.Value)
	result := &automation.NodeResult{Output: map[string]any{"key": key, "value": value}}
	if key == "" {
		in.Warn("variable key resolved to an empty string; nothing assigned")
		return result, nil
	}
	result.Vars = map[string]any{key: value}
	return result, nil
}
