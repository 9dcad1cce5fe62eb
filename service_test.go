package automation_test

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/automation"
	"github.com/stretchr/testify/require"
)

func webhookWorkflow() *automation.Workflow {
	g := &automation.Graph{}
	g.AddNode(node("hook", automation.TriggerWebhook.Kind(), nil))
	g.AddNode(node("save", automation.KindSetVariable, map[string]any{"key": "order", "value": "{{trigger.order_id}}"}))
	g.Connect("hook", "save", "")
	return &automation.Workflow{Name: "Orders", Enabled: true, Graph: g}
}

func TestServiceWorkflowLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	w := leadQualificationWorkflow(t)
	w.ID = ""
	created, err := h.service.CreateWorkflow(ctx, w)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(created.ID, "wf_"))
	require.Equal(t, automation.TriggerLeadCreated, created.TriggerType)
	require.Equal(t, h.clock.Now(), created.CreatedAt)
	require.Empty(t, created.WebhookToken)

	got, err := h.service.GetWorkflow(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, created.Graph.Equal(got.Graph))

	toggled, err := h.service.ToggleWorkflow(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, toggled.Enabled)
	toggled, err = h.service.ToggleWorkflow(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, toggled.Enabled)

	same, err := h.service.SetEnabled(ctx, created.ID, true)
	require.NoError(t, err)
	require.True(t, same.Enabled)

	got.Name = "  Qualify v2 "
	updated, err := h.service.UpdateWorkflow(ctx, got)
	require.NoError(t, err)
	require.Equal(t, "Qualify v2", updated.Name)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)

	copied, err := h.service.DuplicateWorkflow(ctx, created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.ID, copied.ID)
	require.Equal(t, "Qualify v2 (copy)", copied.Name)
	require.False(t, copied.Enabled)

	all, err := h.service.ListWorkflows(ctx, automation.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	enabled, err := h.service.ListWorkflows(ctx, automation.WorkflowFilter{EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	exec, err := h.service.RunWorkflow(ctx, created.ID, map[string]any{"score": 10})
	require.NoError(t, err)
	h.engine.Wait()

	require.NoError(t, h.service.DeleteWorkflow(ctx, created.ID))
	_, err = h.service.GetWorkflow(ctx, created.ID)
	require.ErrorIs(t, err, automation.ErrWorkflowNotFound)
	require.ErrorIs(t, h.service.DeleteWorkflow(ctx, created.ID), automation.ErrWorkflowNotFound)

	details, err := h.service.GetExecutionDetails(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
}

func TestServiceRejectsInvalidWorkflows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	w := leadQualificationWorkflow(t)
	w.Name = " "
	_, err := h.service.CreateWorkflow(ctx, w)
	var verr *automation.GraphValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "name", verr.Field)

	w = leadQualificationWorkflow(t)
	w.TriggerType = automation.TriggerManual
	_, err = h.service.CreateWorkflow(ctx, w)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, automation.CodeTriggerMismatch, verr.Code)

	w = leadQualificationWorkflow(t)
	delete(w.Graph.Nodes[3].Config, "title")
	_, err = h.service.CreateWorkflow(ctx, w)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, automation.CodeInvalidConfig, verr.Code)
	require.Equal(t, "follow_up", verr.NodeID)
	require.Equal(t, "title", verr.Field)

	all, err := h.service.ListWorkflows(ctx, automation.WorkflowFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestServiceExportImport(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	created, err := h.service.CreateWorkflow(ctx, leadQualificationWorkflow(t))
	require.NoError(t, err)

	data, err := h.service.ExportWorkflow(ctx, created.ID)
	require.NoError(t, err)
	imported, err := h.service.ImportWorkflow(ctx, data, "")
	require.NoError(t, err)
	require.Equal(t, "Imported workflow", imported.Name)
	require.False(t, imported.Enabled)
	require.NoError(t, imported.Graph.Validate())
	require.True(t, created.Graph.Equal(imported.Graph))

	_, err = h.service.ImportWorkflow(ctx, []byte("not json"), "x")
	require.True(t, automation.IsValidationError(err))
}

func TestServiceListExecutions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	created, err := h.service.CreateWorkflow(ctx, leadQualificationWorkflow(t))
	require.NoError(t, err)

	var ids []string
	for range 3 {
		h.clock.Advance(1)
		details := h.run(t, created, map[string]any{"score": 1})
		ids = append(ids, details.Execution.ID)
	}
	execs, err := h.service.ListExecutions(ctx, automation.ExecutionFilter{WorkflowID: created.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	require.Equal(t, ids[2], execs[0].ID)
	require.Equal(t, ids[1], execs[1].ID)

	execs, err = h.service.ListExecutions(ctx, automation.ExecutionFilter{Status: automation.ExecutionStatusFailed})
	require.NoError(t, err)
	require.Empty(t, execs)
}

func TestServiceWebhooks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	created, err := h.service.CreateWorkflow(ctx, webhookWorkflow())
	require.NoError(t, err)
	require.NotEmpty(t, created.WebhookToken)
	require.Len(t, created.WebhookSecret, 64)

	info, err := h.service.GenerateWebhook(ctx, created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.WebhookToken, info.Token)
	require.Equal(t, "https://crm.example.com/hooks/"+info.Token, info.URL)

	body := []byte(`{"order_id":"o-1"}`)
	payload := map[string]any{"order_id": "o-1"}

	_, err = h.service.ReceiveWebhook(ctx, created.WebhookToken, created.WebhookSecret, "", body, payload)
	require.ErrorIs(t, err, automation.ErrWorkflowNotFound)

	_, err = h.service.ReceiveWebhook(ctx, info.Token, "wrong", "", body, payload)
	require.ErrorIs(t, err, automation.ErrInvalidWebhookAuth)

	execs, err := h.service.ReceiveWebhook(ctx, info.Token, info.Secret, "", body, payload)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	signature := "sha256=" + hex.EncodeToString(automation.SignWebhook(info.Secret, body))
	execs, err = h.service.ReceiveWebhook(ctx, info.Token, "", signature, body, payload)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	h.engine.Wait()

	details := h.details(t, execs[0].ID)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, automation.TriggerWebhook, details.Execution.TriggerType)
	require.Equal(t, "o-1", findLog(t, details.NodeLogs, "save").Output.(map[string]any)["value"])

	_, err = h.service.SetEnabled(ctx, created.ID, false)
	require.NoError(t, err)
	execs, err = h.service.ReceiveWebhook(ctx, info.Token, info.Secret, "", body, payload)
	require.NoError(t, err)
	require.Empty(t, execs)

	other, err := h.service.CreateWorkflow(ctx, leadQualificationWorkflow(t))
	require.NoError(t, err)
	_, err = h.service.GenerateWebhook(ctx, other.ID)
	require.ErrorIs(t, err, automation.ErrNotWebhookWorkflow)
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte("payload")
	sig := "sha256=" + hex.EncodeToString(automation.SignWebhook("s3cret", body))

	require.True(t, automation.VerifyWebhook("s3cret", "s3cret", "", body))
	require.True(t, automation.VerifyWebhook("s3cret", "", sig, body))
	require.False(t, automation.VerifyWebhook("s3cret", "", sig, []byte("tampered")))
	require.False(t, automation.VerifyWebhook("s3cret", "", strings.TrimPrefix(sig, "sha256="), body))
	require.False(t, automation.VerifyWebhook("s3cret", "", "", body))
	require.False(t, automation.VerifyWebhook("", "", "", body))
}
