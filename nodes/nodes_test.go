package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newInput(cfg automation.NodeConfig, trigger map[string]any) *automation.NodeInput {
	return &automation.NodeInput{
		ExecutionID: "exec_test",
		WorkflowID:  "wf_test",
		PathID:      "main",
		Node:        &automation.Node{ID: "n1"},
		Config:      cfg,
		Scope:       automation.NewScope(trigger),
		Now:         testNow,
	}
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, email Email) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) GetLead(ctx context.Context, id string) (map[string]any, error) {
	args := m.Called(ctx, id)
	lead, _ := args.Get(0).(map[string]any)
	return lead, args.Error(1)
}

func (m *mockCRM) UpdateLead(ctx context.Context, id string, fields map[string]any) (map[string]any, error) {
	args := m.Called(ctx, id, fields)
	lead, _ := args.Get(0).(map[string]any)
	return lead, args.Error(1)
}

func (m *mockCRM) GetCustomer(ctx context.Context, id string) (map[string]any, error) {
	args := m.Called(ctx, id)
	customer, _ := args.Get(0).(map[string]any)
	return customer, args.Error(1)
}

func TestRegistryHasEveryKind(t *testing.T) {
	r := NewRegistry(Options{})
	for _, t2 := range automation.TriggerTypes() {
		_, ok := r.Get(t2.Kind())
		require.True(t, ok, t2)
	}
	for _, kind := range []automation.NodeKind{
		automation.KindSendEmail, automation.KindCreateTask, automation.KindUpdateLead,
		automation.KindHTTPRequest, automation.KindSetVariable, automation.KindIfElse,
		automation.KindSwitch, automation.KindDelay, automation.KindMerge,
		automation.KindGetLead, automation.KindGetCustomer, automation.KindTransform,
	} {
		_, ok := r.Get(kind)
		require.True(t, ok, kind)
	}
}

func TestRegistryRequiredFields(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.Decode(&automation.Node{ID: "mail", Kind: automation.KindSendEmail, Config: map[string]any{"subject": "hi"}})
	var verr *automation.GraphValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, automation.CodeInvalidConfig, verr.Code)
	require.Equal(t, "mail", verr.NodeID)
	require.Equal(t, "to", verr.Field)

	_, err = r.Decode(&automation.Node{ID: "check", Kind: automation.KindIfElse,
		Config: map[string]any{"field": "trigger.score", "operator": "between"}})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "operator", verr.Field)

	cfg, err := r.Decode(&automation.Node{ID: "wait", Kind: automation.KindDelay, Config: map[string]any{"minutes": "15"}})
	require.NoError(t, err)
	require.Equal(t, 15.0, cfg.(*automation.DelayConfig).Minutes)
}

func TestIfElse(t *testing.T) {
	cases := []struct {
		name     string
		cfg      automation.IfElseConfig
		trigger  map[string]any
		expected string
	}{
		{"numeric greater", automation.IfElseConfig{Field: "trigger.score", Operator: automation.OpGreaterThan, Value: "50"},
			map[string]any{"score": 80.0}, "true"},
		{"numeric not greater", automation.IfElseConfig{Field: "trigger.score", Operator: automation.OpGreaterThan, Value: "50"},
			map[string]any{"score": 20.0}, "false"},
		{"non numeric is false", automation.IfElseConfig{Field: "trigger.score", Operator: automation.OpLessThan, Value: "50"},
			map[string]any{"score": "high"}, "false"},
		{"template field", automation.IfElseConfig{Field: "{{trigger.email}}", Operator: automation.OpContains, Value: "@acme"},
			map[string]any{"email": "ana@acme.io"}, "true"},
		{"missing field is empty", automation.IfElseConfig{Field: "trigger.phone", Operator: automation.OpIsEmpty},
			map[string]any{}, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			result, err := executeIfElse(context.Background(), newInput(&cfg, tc.trigger))
			require.NoError(t, err)
			require.Equal(t, tc.expected, result.Branch)
		})
	}

	t.Run("missing field warns", func(t *testing.T) {
		in := newInput(&automation.IfElseConfig{Field: "trigger.phone", Operator: automation.OpIsEmpty}, nil)
		_, err := executeIfElse(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, []string{`unresolved variable "trigger.phone"`}, in.Warnings())
	})
}

func TestSwitch(t *testing.T) {
	cfg := &automation.SwitchConfig{Field: "trigger.stage", Cases: []string{"proposal", "won"}}

	result, err := executeSwitch(context.Background(), newInput(cfg, map[string]any{"stage": "won"}))
	require.NoError(t, err)
	require.Equal(t, "won", result.Branch)

	result, err = executeSwitch(context.Background(), newInput(cfg, map[string]any{"stage": "Won"}))
	require.NoError(t, err)
	require.Equal(t, "default", result.Branch)
}

func TestDelay(t *testing.T) {
	result, err := executeDelay(context.Background(), newInput(&automation.DelayConfig{Minutes: 1.5}, nil))
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, result.Delay)
	require.Equal(t, "2026-03-02T09:31:30Z", result.Output.(map[string]any)["resume_at"])
}

func TestSetVariableAndTransform(t *testing.T) {
	trigger := map[string]any{"name": "Ana", "score": 72.0}

	result, err := executeSetVariable(context.Background(),
		newInput(&automation.SetVariableConfig{Key: "greeting", Value: "Hi {{trigger.name}}"}, trigger))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"greeting": "Hi Ana"}, result.Vars)

	in := newInput(&automation.SetVariableConfig{Key: "{{trigger.field}}", Value: "x"}, trigger)
	result, err = executeSetVariable(context.Background(), in)
	require.NoError(t, err)
	require.Nil(t, result.Vars)
	require.Len(t, in.Warnings(), 2)

	result, err = executeTransform(context.Background(), newInput(&automation.TransformConfig{Mapping: map[string]any{
		"full":  "{{trigger.name}} ({{trigger.score}})",
		"score": "{{trigger.score}}",
		"tags":  []any{"{{trigger.name}}", "lead"},
	}}, trigger))
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"full":  "Ana (72)",
		"score": 72.0,
		"tags":  []any{"Ana", "lead"},
	}, result.Output)
}

func TestSendEmail(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, Email{
		To:      []string{"ana@acme.io", "ops@acme.io"},
		Subject: "Welcome Ana",
		Body:    "Score 72",
	}).Return("msg_1", nil).Once()

	exec := &sendEmailExecutor{mailer: mailer}
	in := newInput(&automation.SendEmailConfig{
		To:      "{{trigger.email}}; ops@acme.io",
		Subject: "Welcome {{trigger.name}}",
		Body:    "Score {{trigger.score}}",
	}, map[string]any{"email": "ana@acme.io", "name": "Ana", "score": 72.0})

	result, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "msg_1", result.Output.(map[string]any)["message_id"])
	require.Equal(t, "sent", result.Output.(map[string]any)["status"])
	mailer.AssertExpectations(t)

	t.Run("unresolved recipient is handed to the mailer", func(t *testing.T) {
		logMailer := NewLogMailer()
		in := newInput(&automation.SendEmailConfig{To: "{{trigger.email}}", Subject: "Hi"}, nil)
		result, err := (&sendEmailExecutor{mailer: logMailer}).Execute(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, "sent", result.Output.(map[string]any)["status"])
		require.Equal(t, []string{`unresolved variable "trigger.email"`}, in.Warnings())
		sent := logMailer.Sent()
		require.Len(t, sent, 1)
		require.Empty(t, sent[0].To)
	})

	t.Run("mailer failure", func(t *testing.T) {
		failing := &mockMailer{}
		failing.On("Send", mock.Anything, mock.Anything).Return("", errors.New("relay down"))
		_, err := (&sendEmailExecutor{mailer: failing}).Execute(context.Background(),
			newInput(&automation.SendEmailConfig{To: "a@b.c"}, nil))
		require.ErrorContains(t, err, "relay down")
	})
}

func TestCreateTask(t *testing.T) {
	crm := NewMemoryCRM()
	exec := &createTaskExecutor{tasks: crm}
	in := newInput(&automation.CreateTaskConfig{
		Title:     "Call {{trigger.name}}",
		DueInDays: 2,
	}, map[string]any{"name": "Ana", "lead_id": "lead_9"})

	result, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	out := result.Output.(map[string]any)
	require.Equal(t, "Call Ana", out["title"])
	require.Equal(t, "medium", out["priority"])
	require.Equal(t, "2026-03-04T09:30:00Z", out["due_date"])

	tasks := crm.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "lead_9", tasks[0].LeadID)

	in = newInput(&automation.CreateTaskConfig{Title: "{{trigger.subject}}"}, nil)
	_, err = exec.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []string{`unresolved variable "trigger.subject"`}, in.Warnings())
	require.Len(t, crm.Tasks(), 2)
}

func TestUpdateLead(t *testing.T) {
	crm := &mockCRM{}
	crm.On("UpdateLead", mock.Anything, "lead_1", map[string]any{"status": "qualified", "score": 85.0}).
		Return(map[string]any{"id": "lead_1", "status": "qualified", "score": 85.0}, nil)

	exec := &updateLeadExecutor{crm: crm}
	result, err := exec.Execute(context.Background(), newInput(&automation.UpdateLeadConfig{
		Status: "qualified",
		Score:  "{{trigger.score}}",
	}, map[string]any{"id": "lead_1", "score": 85.0}))
	require.NoError(t, err)
	require.Equal(t, "lead_1", result.Output.(map[string]any)["lead_id"])
	crm.AssertExpectations(t)

	_, err = exec.Execute(context.Background(), newInput(&automation.UpdateLeadConfig{
		LeadID: "lead_1", Score: "lots",
	}, nil))
	require.ErrorContains(t, err, `score "lots" is not a number`)

	t.Run("without lead id the crm creates the lead", func(t *testing.T) {
		memory := NewMemoryCRM()
		in := newInput(&automation.UpdateLeadConfig{Status: "qualified"}, map[string]any{"score": 75.0, "name": "Asha"})
		result, err := (&updateLeadExecutor{crm: memory}).Execute(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, in.Warnings(), 1)

		leadID, _ := result.Output.(map[string]any)["lead_id"].(string)
		require.True(t, strings.HasPrefix(leadID, "lead_"), leadID)
		lead, err := memory.GetLead(context.Background(), leadID)
		require.NoError(t, err)
		require.Equal(t, "qualified", lead["status"])
	})

	t.Run("unknown lead id is upserted", func(t *testing.T) {
		memory := NewMemoryCRM()
		_, err := (&updateLeadExecutor{crm: memory}).Execute(context.Background(),
			newInput(&automation.UpdateLeadConfig{LeadID: "lead_7", Notes: "called"}, nil))
		require.NoError(t, err)
		lead, err := memory.GetLead(context.Background(), "lead_7")
		require.NoError(t, err)
		require.Equal(t, "called", lead["notes"])
	})
}

func TestGetRecords(t *testing.T) {
	crm := NewMemoryCRM()
	crm.PutLead("lead_1", map[string]any{"email": "ana@acme.io"})
	crm.PutCustomer("cus_1", map[string]any{"plan": "pro"})

	result, err := (&getLeadExecutor{crm: crm}).Execute(context.Background(),
		newInput(&automation.GetLeadConfig{}, map[string]any{"lead_id": "lead_1"}))
	require.NoError(t, err)
	require.Equal(t, "ana@acme.io", result.Output.(map[string]any)["email"])

	result, err = (&getCustomerExecutor{crm: crm}).Execute(context.Background(),
		newInput(&automation.GetCustomerConfig{CustomerID: "{{trigger.ref}}"}, map[string]any{"ref": "cus_1"}))
	require.NoError(t, err)
	require.Equal(t, "pro", result.Output.(map[string]any)["plan"])

	_, err = (&getLeadExecutor{crm: crm}).Execute(context.Background(),
		newInput(&automation.GetLeadConfig{LeadID: "missing"}, nil))
	require.ErrorIs(t, err, ErrNotFound)

	in := newInput(&automation.GetCustomerConfig{CustomerID: "{{trigger.customer}}"}, nil)
	_, err = (&getCustomerExecutor{crm: crm}).Execute(context.Background(), in)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{`unresolved variable "trigger.customer"`}, in.Warnings())
}
