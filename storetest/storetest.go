// Package storetest checks that an automation.Store implementation honors
// the store contract. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) automation.Store) {
	t.Run("workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("executions", func(t *testing.T) { testExecutions(t, newStore(t)) })
	t.Run("node logs", func(t *testing.T) { testNodeLogs(t, newStore(t)) })
	t.Run("suspensions", func(t *testing.T) { testSuspensions(t, newStore(t)) })
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleGraph() *automation.Graph {
	g := &automation.Graph{}
	g.AddNode(&automation.Node{ID: "t", Kind: automation.TriggerWebhook.Kind(), Label: "Hook",
		Position: automation.Position{X: 10, Y: 20}, Config: map[string]any{}})
	g.AddNode(&automation.Node{ID: "m", Kind: automation.KindSendEmail,
		Config: map[string]any{"to": "a@b.c", "retries": 2.0}})
	g.Connect("t", "m", "")
	return g
}

func sampleWorkflow(id string, enabled bool, token string) *automation.Workflow {
	return &automation.Workflow{
		ID:            id,
		Name:          "Workflow " + id,
		TriggerType:   automation.TriggerWebhook,
		Enabled:       enabled,
		Graph:         sampleGraph(),
		WebhookToken:  token,
		WebhookSecret: "secret-" + id,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}

func testWorkflows(t *testing.T, s automation.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, sampleWorkflow("wf_a", true, "tok-a")))
	require.NoError(t, s.CreateWorkflow(ctx, sampleWorkflow("wf_b", false, "")))

	got, err := s.GetWorkflow(ctx, "wf_a")
	require.NoError(t, err)
	require.Equal(t, "Workflow wf_a", got.Name)
	require.True(t, sampleGraph().Equal(got.Graph))
	require.True(t, got.CreatedAt.Equal(base))

	byToken, err := s.GetWorkflowByWebhookToken(ctx, "tok-a")
	require.NoError(t, err)
	require.Equal(t, "wf_a", byToken.ID)
	_, err = s.GetWorkflowByWebhookToken(ctx, "nope")
	require.ErrorIs(t, err, automation.ErrWorkflowNotFound)
	_, err = s.GetWorkflowByWebhookToken(ctx, "")
	require.ErrorIs(t, err, automation.ErrWorkflowNotFound)

	got.Name = "Renamed"
	got.Enabled = false
	require.NoError(t, s.UpdateWorkflow(ctx, got))
	got, err = s.GetWorkflow(ctx, "wf_a")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Name)
	require.False(t, got.Enabled)

	require.ErrorIs(t, s.UpdateWorkflow(ctx, sampleWorkflow("wf_missing", true, "")), automation.ErrWorkflowNotFound)

	all, err := s.ListWorkflows(ctx, automation.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "wf_a", all[0].ID)
	require.Equal(t, "wf_b", all[1].ID)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf_a"))
	_, err = s.GetWorkflow(ctx, "wf_a")
	require.ErrorIs(t, err, automation.ErrWorkflowNotFound)
	require.ErrorIs(t, s.DeleteWorkflow(ctx, "wf_a"), automation.ErrWorkflowNotFound)

	all, err = s.ListWorkflows(ctx, automation.WorkflowFilter{TriggerType: automation.TriggerWebhook, EnabledOnly: true})
	require.NoError(t, err)
	require.Empty(t, all)
}

func sampleExecution(id, workflowID string, createdAt time.Time) *automation.Execution {
	return &automation.Execution{
		ID:           id,
		WorkflowID:   workflowID,
		WorkflowName: "Workflow " + workflowID,
		TriggerType:  automation.TriggerWebhook,
		TriggerData:  map[string]any{"order": "o-1", "total": 12.5},
		Graph:        sampleGraph(),
		Status:       automation.ExecutionStatusPending,
		CreatedAt:    createdAt,
	}
}

func testExecutions(t *testing.T, s automation.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, sampleExecution("exec_1", "wf_a", base)))
	require.NoError(t, s.CreateExecution(ctx, sampleExecution("exec_2", "wf_a", base.Add(time.Minute))))
	require.NoError(t, s.CreateExecution(ctx, sampleExecution("exec_3", "wf_b", base.Add(2*time.Minute))))

	got, err := s.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, automation.ExecutionStatusPending, got.Status)
	require.Equal(t, map[string]any{"order": "o-1", "total": 12.5}, got.TriggerData)
	require.True(t, sampleGraph().Equal(got.Graph))

	_, err = s.GetExecution(ctx, "exec_missing")
	require.ErrorIs(t, err, automation.ErrExecutionNotFound)

	started := base.Add(time.Second)
	require.NoError(t, s.MarkExecutionRunning(ctx, "exec_1", started))
	require.NoError(t, s.MarkExecutionRunning(ctx, "exec_1", started.Add(time.Hour)))
	got, err = s.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, automation.ExecutionStatusRunning, got.Status)
	require.True(t, got.StartedAt.Equal(started))

	done := base.Add(5 * time.Second)
	require.NoError(t, s.FinishExecution(ctx, "exec_1", automation.ExecutionStatusFailed, done, `node "m" failed: boom`))
	require.ErrorIs(t, s.FinishExecution(ctx, "exec_1", automation.ExecutionStatusCompleted, done, ""),
		automation.ErrExecutionFinalized)
	require.ErrorIs(t, s.MarkExecutionRunning(ctx, "exec_1", done), automation.ErrExecutionFinalized)
	got, err = s.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, automation.ExecutionStatusFailed, got.Status)
	require.Equal(t, `node "m" failed: boom`, got.ErrorMessage)
	require.True(t, got.CompletedAt.Equal(done))

	require.ErrorIs(t, s.FinishExecution(ctx, "exec_missing", automation.ExecutionStatusCompleted, done, ""),
		automation.ErrExecutionNotFound)

	execs, err := s.ListExecutions(ctx, automation.ExecutionFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"exec_3", "exec_2", "exec_1"}, executionIDs(execs))

	execs, err = s.ListExecutions(ctx, automation.ExecutionFilter{WorkflowID: "wf_a", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"exec_2"}, executionIDs(execs))

	execs, err = s.ListExecutions(ctx, automation.ExecutionFilter{Status: automation.ExecutionStatusFailed})
	require.NoError(t, err)
	require.Equal(t, []string{"exec_1"}, executionIDs(execs))
}

func executionIDs(execs []*automation.Execution) []string {
	ids := make([]string, 0, len(execs))
	for _, e := range execs {
		ids = append(ids, e.ID)
	}
	return ids
}

func testNodeLogs(t *testing.T, s automation.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, sampleExecution("exec_1", "wf_a", base)))

	logs := []*automation.NodeLog{
		{ID: "nlog_1", ExecutionID: "exec_1", NodeID: "t", NodeType: automation.TriggerWebhook.Kind(),
			Status: automation.NodeStatusSuccess, PathID: "main", Step: 0,
			Output: map[string]any{"order": "o-1"}, StartedAt: base, CompletedAt: base},
		{ID: "nlog_2", ExecutionID: "exec_1", NodeID: "m", NodeType: automation.KindSendEmail,
			Status: automation.NodeStatusFailed, ErrorMessage: "relay down", Warnings: []string{`unresolved variable "trigger.x"`},
			PathID: "main", Step: 1, StartedAt: base, CompletedAt: base.Add(time.Second)},
		{ID: "nlog_3", ExecutionID: "exec_1", NodeID: "x", NodeType: automation.KindMerge,
			Status: automation.NodeStatusSkipped, SkipReason: `upstream node "m" failed`, Step: 2,
			StartedAt: base, CompletedAt: base},
	}
	for _, l := range logs {
		require.NoError(t, s.AppendNodeLog(ctx, l))
	}

	got, err := s.ListNodeLogs(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	automation.SortNodeLogs(got)
	require.Equal(t, "t", got[0].NodeID)
	require.Equal(t, map[string]any{"order": "o-1"}, got[0].Output)
	require.Equal(t, "relay down", got[1].ErrorMessage)
	require.Equal(t, []string{`unresolved variable "trigger.x"`}, got[1].Warnings)
	require.Equal(t, `upstream node "m" failed`, got[2].SkipReason)

	empty, err := s.ListNodeLogs(ctx, "exec_other")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testSuspensions(t *testing.T, s automation.Store) {
	ctx := context.Background()
	scope := automation.NewScope(map[string]any{"email": "ana@acme.io"})
	scope.SetVar("step", "welcome")

	for i, resumeAt := range []time.Time{base.Add(10 * time.Minute), base.Add(time.Minute), base.Add(time.Hour)} {
		execID := "exec_1"
		if i == 2 {
			execID = "exec_2"
		}
		require.NoError(t, s.SaveSuspension(ctx, &automation.Suspension{
			ID:          []string{"susp_a", "susp_b", "susp_c"}[i],
			ExecutionID: execID,
			PathID:      "main",
			NodeID:      "wait",
			Step:        2,
			ResumeAt:    resumeAt,
			Scope:       scope,
			CreatedAt:   base,
		}))
	}

	due, err := s.ListDueSuspensions(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "susp_b", due[0].ID)
	require.Equal(t, "susp_a", due[1].ID)
	require.Equal(t, "ana@acme.io", due[0].Scope.Trigger["email"])
	require.Equal(t, "welcome", due[0].Scope.Vars["step"])

	pending, err := s.ListSuspensions(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	claimed, err := s.ClaimSuspension(ctx, "susp_b")
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = s.ClaimSuspension(ctx, "susp_b")
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, s.DeleteSuspensions(ctx, "exec_1"))
	pending, err = s.ListSuspensions(ctx, "exec_1")
	require.NoError(t, err)
	require.Empty(t, pending)
	pending, err = s.ListSuspensions(ctx, "exec_2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
