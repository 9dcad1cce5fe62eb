package automation_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/stretchr/testify/require"
)

func leadQualificationWorkflow(t *testing.T) *automation.Workflow {
	return newWorkflow(t, "qualify", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerLeadCreated.Kind(), nil))
		g.AddNode(node("check", automation.KindIfElse, map[string]any{
			"field": "trigger.score", "operator": "greater_than", "value": "50",
		}))
		g.AddNode(node("qualify", automation.KindUpdateLead, map[string]any{"status": "qualified"}))
		g.AddNode(node("follow_up", automation.KindCreateTask, map[string]any{
			"title": "Follow up with {{trigger.name}}",
		}))
		g.Connect("trigger", "check", "")
		g.Connect("check", "qualify", "true")
		g.Connect("check", "follow_up", "false")
	})
}

func TestEngineTakesOneBranch(t *testing.T) {
	h := newHarness(t, nil)

	details := h.run(t, leadQualificationWorkflow(t), map[string]any{"score": 75, "name": "Asha"})
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Empty(t, details.Execution.ErrorMessage)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"check", "main", automation.NodeStatusSuccess},
		{"qualify", "main", automation.NodeStatusSuccess},
		{"follow_up", "", automation.NodeStatusSkipped},
	}, trace(details.NodeLogs))

	check := findLog(t, details.NodeLogs, "check")
	require.Equal(t, "true", check.Branch)
	require.Equal(t, true, check.Output.(map[string]any)["decision"])

	skipped := findLog(t, details.NodeLogs, "follow_up")
	require.Equal(t, `branch "false" of node "check" not taken`, skipped.SkipReason)

	qualify := findLog(t, details.NodeLogs, "qualify")
	leadID, _ := qualify.Output.(map[string]any)["lead_id"].(string)
	require.NotEmpty(t, leadID)
	lead, err := h.crm.GetLead(context.Background(), leadID)
	require.NoError(t, err)
	require.Equal(t, "qualified", lead["status"])
	require.Empty(t, h.crm.Tasks())
}

func TestEngineUpdatesTriggerLead(t *testing.T) {
	h := newHarness(t, nil)
	h.crm.PutLead("lead_1", map[string]any{"status": "new"})

	details := h.run(t, leadQualificationWorkflow(t), map[string]any{"id": "lead_1", "score": 75, "name": "Asha"})
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Empty(t, findLog(t, details.NodeLogs, "qualify").Warnings)

	lead, err := h.crm.GetLead(context.Background(), "lead_1")
	require.NoError(t, err)
	require.Equal(t, "qualified", lead["status"])
}

func TestEngineResolutionMissDoesNotFail(t *testing.T) {
	h := newHarness(t, nil)
	w := newWorkflow(t, "welcome", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerCustomerCreated.Kind(), nil))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{
			"to": "{{trigger.email}}", "subject": "Welcome {{trigger.name}}",
		}))
		g.Connect("trigger", "mail", "")
	})

	details := h.run(t, w, map[string]any{})
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	mail := findLog(t, details.NodeLogs, "mail")
	require.Equal(t, automation.NodeStatusSuccess, mail.Status)
	require.Equal(t, []string{
		`unresolved variable "trigger.email"`,
		`unresolved variable "trigger.name"`,
	}, mail.Warnings)
}

func TestEngineFalseBranch(t *testing.T) {
	h := newHarness(t, nil)
	details := h.run(t, leadQualificationWorkflow(t), map[string]any{"score": 20, "name": "Asha"})
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, automation.NodeStatusSkipped, findLog(t, details.NodeLogs, "qualify").Status)

	tasks := h.crm.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "Follow up with Asha", tasks[0].Title)
}

func TestEngineHTTPFailureFailsExecution(t *testing.T) {
	srv := failingServer(t)
	h := newHarness(t, nil)
	w := newWorkflow(t, "notify", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("hook", automation.KindHTTPRequest, map[string]any{"url": srv.URL + "/hook", "method": "POST"}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{"to": "ops@acme.io"}))
		g.Connect("trigger", "hook", "")
		g.Connect("hook", "mail", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusFailed, details.Execution.Status)
	require.NotEmpty(t, details.Execution.ErrorMessage)
	require.Contains(t, details.Execution.ErrorMessage, `node "hook" failed`)
	require.Error(t, automation.ExecutionError(details.Execution))

	hook := findLog(t, details.NodeLogs, "hook")
	require.Equal(t, automation.NodeStatusFailed, hook.Status)
	require.Contains(t, hook.ErrorMessage, "500")
	require.Equal(t, "node_failed", hook.Output.(map[string]any)["error_type"])

	mail := findLog(t, details.NodeLogs, "mail")
	require.Equal(t, automation.NodeStatusSkipped, mail.Status)
	require.Equal(t, `upstream node "hook" failed`, mail.SkipReason)
	require.Empty(t, h.mailer.Sent())
}

func TestEngineContinueOnError(t *testing.T) {
	srv := failingServer(t)
	h := newHarness(t, nil)
	w := newWorkflow(t, "tolerant", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("hook", automation.KindHTTPRequest, map[string]any{
			"url": srv.URL, "continue_on_error": true,
		}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{
			"to": "ops@acme.io", "subject": "hook said {{nodes.hook.error_type}}",
		}))
		g.Connect("trigger", "hook", "")
		g.Connect("hook", "mail", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	hook := findLog(t, details.NodeLogs, "hook")
	require.Equal(t, automation.NodeStatusFailed, hook.Status)
	require.True(t, hook.Tolerated)
	require.Equal(t, automation.NodeStatusSuccess, findLog(t, details.NodeLogs, "mail").Status)
	require.Equal(t, "hook said node_failed", h.mailer.Sent()[0].Subject)
}

func TestEngineFanOutIsolatesPaths(t *testing.T) {
	srv := failingServer(t)
	h := newHarness(t, nil)
	w := newWorkflow(t, "fanout", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("hook", automation.KindHTTPRequest, map[string]any{"url": srv.URL}))
		g.AddNode(node("after_hook", automation.KindSetVariable, map[string]any{"key": "x", "value": "1"}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{"to": "ops@acme.io"}))
		g.Connect("trigger", "hook", "")
		g.Connect("hook", "after_hook", "")
		g.Connect("trigger", "mail", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusFailed, details.Execution.Status)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"hook", "main.0", automation.NodeStatusFailed},
		{"mail", "main.1", automation.NodeStatusSuccess},
		{"after_hook", "", automation.NodeStatusSkipped},
	}, trace(details.NodeLogs))
	require.Len(t, h.mailer.Sent(), 1)
}

func TestEngineMergeRunsPerContinuation(t *testing.T) {
	h := newHarness(t, nil)
	w := newWorkflow(t, "merge", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("a", automation.KindSetVariable, map[string]any{"key": "source", "value": "a"}))
		g.AddNode(node("b", automation.KindSetVariable, map[string]any{"key": "source", "value": "b"}))
		g.AddNode(node("join", automation.KindMerge, nil))
		g.AddNode(node("shape", automation.KindTransform, map[string]any{
			"mapping": map[string]any{"from": "{{vars.source}}"},
		}))
		g.Connect("trigger", "a", "")
		g.Connect("trigger", "b", "")
		g.Connect("a", "join", "")
		g.Connect("b", "join", "")
		g.Connect("join", "shape", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"a", "main.0", automation.NodeStatusSuccess},
		{"join", "main.0", automation.NodeStatusSuccess},
		{"shape", "main.0", automation.NodeStatusSuccess},
		{"b", "main.1", automation.NodeStatusSuccess},
		{"join", "main.1", automation.NodeStatusSuccess},
		{"shape", "main.1", automation.NodeStatusSuccess},
	}, trace(details.NodeLogs))

	var outputs []any
	for _, l := range details.NodeLogs {
		if l.NodeID == "shape" {
			outputs = append(outputs, l.Output)
		}
	}
	require.Equal(t, []any{
		map[string]any{"from": "a"},
		map[string]any{"from": "b"},
	}, outputs)
}

func TestEngineSwitch(t *testing.T) {
	h := newHarness(t, nil)
	w := newWorkflow(t, "stages", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerLeadUpdated.Kind(), nil))
		g.AddNode(node("route", automation.KindSwitch, map[string]any{
			"field": "trigger.stage", "cases": []any{"won", "lost"},
		}))
		g.AddNode(node("celebrate", automation.KindSendEmail, map[string]any{"to": "sales@acme.io"}))
		g.AddNode(node("review", automation.KindCreateTask, map[string]any{"title": "Loss review"}))
		g.AddNode(node("nudge", automation.KindCreateTask, map[string]any{"title": "Nudge"}))
		g.Connect("trigger", "route", "")
		g.Connect("route", "celebrate", "won")
		g.Connect("route", "review", "lost")
		g.Connect("route", "nudge", "default")
	})

	details := h.run(t, w, map[string]any{"stage": "negotiation"})
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, "default", findLog(t, details.NodeLogs, "route").Branch)
	require.Equal(t, automation.NodeStatusSuccess, findLog(t, details.NodeLogs, "nudge").Status)
	require.Equal(t, `branch "won" of node "route" not taken`, findLog(t, details.NodeLogs, "celebrate").SkipReason)
	require.Equal(t, `branch "lost" of node "route" not taken`, findLog(t, details.NodeLogs, "review").SkipReason)
}

func delayedWorkflow(t *testing.T) *automation.Workflow {
	return newWorkflow(t, "drip", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerCustomerCreated.Kind(), nil))
		g.AddNode(node("wait", automation.KindDelay, map[string]any{"minutes": 30}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{
			"to": "{{trigger.email}}", "subject": "Welcome {{trigger.name}}",
		}))
		g.Connect("trigger", "wait", "")
		g.Connect("wait", "mail", "")
	})
}

func TestEngineDelaySuspendsAndResumes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	details := h.run(t, delayedWorkflow(t), map[string]any{"email": "ana@acme.io", "name": "Ana"})
	require.Equal(t, automation.ExecutionStatusRunning, details.Execution.Status)
	require.Len(t, details.NodeLogs, 2)
	require.False(t, h.engine.IsActive(details.Execution.ID))

	suspensions, err := h.store.ListSuspensions(ctx, details.Execution.ID)
	require.NoError(t, err)
	require.Len(t, suspensions, 1)
	require.Equal(t, h.clock.Now().Add(30*time.Minute), suspensions[0].ResumeAt)

	h.clock.Advance(29 * time.Minute)
	n, err := h.engine.ResumeDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.clock.Advance(time.Minute)
	n, err = h.engine.ResumeDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.engine.Wait()

	details = h.details(t, details.Execution.ID)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"wait", "main", automation.NodeStatusSuccess},
		{"mail", "main", automation.NodeStatusSuccess},
	}, trace(details.NodeLogs))
	require.Equal(t, "Welcome Ana", h.mailer.Sent()[0].Subject)

	suspensions, err = h.store.ListSuspensions(ctx, details.Execution.ID)
	require.NoError(t, err)
	require.Empty(t, suspensions)
}

func TestEngineDelaySuspendsOnlyItsContinuation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	w := newWorkflow(t, "split", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerCustomerCreated.Kind(), nil))
		g.AddNode(node("wait", automation.KindDelay, map[string]any{"minutes": 60}))
		g.AddNode(node("mail_a", automation.KindSendEmail, map[string]any{"to": "{{trigger.email}}", "subject": "Later"}))
		g.AddNode(node("mail_b", automation.KindSendEmail, map[string]any{"to": "{{trigger.email}}", "subject": "Now"}))
		g.Connect("trigger", "wait", "")
		g.Connect("trigger", "mail_b", "")
		g.Connect("wait", "mail_a", "")
	})

	details := h.run(t, w, map[string]any{"email": "ana@acme.io"})
	id := details.Execution.ID
	require.Equal(t, automation.ExecutionStatusRunning, details.Execution.Status)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"wait", "main.0", automation.NodeStatusSuccess},
		{"mail_b", "main.1", automation.NodeStatusSuccess},
	}, trace(details.NodeLogs))

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Now", sent[0].Subject)

	suspensions, err := h.store.ListSuspensions(ctx, id)
	require.NoError(t, err)
	require.Len(t, suspensions, 1)
	require.Equal(t, "main.0", suspensions[0].PathID)

	h.clock.Advance(time.Hour)
	n, err := h.engine.ResumeDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.engine.Wait()

	details = h.details(t, id)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Equal(t, []logEntry{
		{"trigger", "main", automation.NodeStatusSuccess},
		{"wait", "main.0", automation.NodeStatusSuccess},
		{"mail_a", "main.0", automation.NodeStatusSuccess},
		{"mail_b", "main.1", automation.NodeStatusSuccess},
	}, trace(details.NodeLogs))
	require.Len(t, h.mailer.Sent(), 2)
}

func TestEngineResumeAfterRestart(t *testing.T) {
	h := newHarness(t, nil)
	details := h.run(t, delayedWorkflow(t), map[string]any{"email": "ana@acme.io", "name": "Ana"})
	require.Equal(t, automation.ExecutionStatusRunning, details.Execution.Status)

	// A second engine over the same store stands in for a restarted process.
	restarted, err := automation.NewEngine(automation.EngineOptions{
		Registry: h.engine.Registry(),
		Store:    h.store,
		Now:      func() time.Time { return h.clock.Now().Add(time.Hour) },
	})
	require.NoError(t, err)
	n, err := restarted.ResumeDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	restarted.Wait()

	details = h.details(t, details.Execution.ID)
	require.Equal(t, automation.ExecutionStatusCompleted, details.Execution.Status)
	require.Len(t, h.mailer.Sent(), 1)
}

func TestEngineCancelSuspended(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	details := h.run(t, delayedWorkflow(t), map[string]any{"email": "ana@acme.io"})
	id := details.Execution.ID

	require.NoError(t, h.service.CancelExecution(ctx, id))
	details = h.details(t, id)
	require.Equal(t, automation.ExecutionStatusCancelled, details.Execution.Status)
	require.Empty(t, details.Execution.ErrorMessage)
	mail := findLog(t, details.NodeLogs, "mail")
	require.Equal(t, automation.NodeStatusSkipped, mail.Status)
	require.Equal(t, "execution cancelled", mail.SkipReason)

	suspensions, err := h.store.ListSuspensions(ctx, id)
	require.NoError(t, err)
	require.Empty(t, suspensions)

	h.clock.Advance(time.Hour)
	n, err := h.engine.ResumeDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.ErrorIs(t, h.service.CancelExecution(ctx, id), automation.ErrExecutionFinalized)
	require.ErrorIs(t, h.service.CancelExecution(ctx, "exec_missing"), automation.ErrExecutionNotFound)
}

func TestEngineCancelRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sent atomic.Int32
	registry := customRegistry(t, map[automation.NodeKind]automation.NodeExecutorFunc{
		automation.KindHTTPRequest: func(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
			close(started)
			<-release
			return &automation.NodeResult{Output: map[string]any{"ok": true}}, nil
		},
		automation.KindSendEmail: func(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
			sent.Add(1)
			return &automation.NodeResult{}, nil
		},
	})
	h := newHarness(t, registry)
	w := newWorkflow(t, "slow", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("slow", automation.KindHTTPRequest, map[string]any{"url": "https://example.com"}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{"to": "a@b.c"}))
		g.Connect("trigger", "slow", "")
		g.Connect("slow", "mail", "")
	})

	ctx := context.Background()
	exec, err := h.engine.Start(ctx, w, nil)
	require.NoError(t, err)
	<-started
	require.NoError(t, h.engine.Cancel(ctx, exec.ID))
	close(release)
	h.engine.Wait()

	details := h.details(t, exec.ID)
	require.Equal(t, automation.ExecutionStatusCancelled, details.Execution.Status)
	require.Empty(t, details.Execution.ErrorMessage)
	require.Equal(t, automation.NodeStatusSuccess, findLog(t, details.NodeLogs, "slow").Status)
	require.Equal(t, "execution cancelled", findLog(t, details.NodeLogs, "mail").SkipReason)
	require.Zero(t, sent.Load())
}

func TestEngineExecutorPanicIsFault(t *testing.T) {
	registry := customRegistry(t, map[automation.NodeKind]automation.NodeExecutorFunc{
		automation.KindSetVariable: func(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
			panic("kaboom")
		},
		automation.KindSendEmail: func(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
			return &automation.NodeResult{}, nil
		},
	})
	h := newHarness(t, registry)
	w := newWorkflow(t, "panics", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("boom", automation.KindSetVariable, map[string]any{"key": "x"}))
		g.AddNode(node("mail", automation.KindSendEmail, map[string]any{"to": "a@b.c"}))
		g.Connect("trigger", "boom", "")
		g.Connect("trigger", "mail", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusFailed, details.Execution.Status)
	require.Equal(t, `engine fault at node "boom": executor panicked: kaboom`, details.Execution.ErrorMessage)
	for _, l := range details.NodeLogs {
		if l.NodeID == "boom" {
			require.Equal(t, automation.NodeStatusSkipped, l.Status)
			require.Equal(t, "execution aborted", l.SkipReason)
		}
	}
}

func TestEngineUnregisteredKindIsFault(t *testing.T) {
	registry := customRegistry(t, nil)
	h := newHarness(t, registry)
	w := newWorkflow(t, "unknown", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("lookup", automation.KindGetLead, nil))
		g.Connect("trigger", "lookup", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusFailed, details.Execution.Status)
	require.Contains(t, details.Execution.ErrorMessage, `no executor registered for node type "data_get_lead"`)
}

func TestEngineInvalidConfigFailsNode(t *testing.T) {
	h := newHarness(t, nil)
	w := newWorkflow(t, "bad-config", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		g.AddNode(node("wait", automation.KindDelay, map[string]any{"minutes": -5}))
		g.Connect("trigger", "wait", "")
	})

	details := h.run(t, w, nil)
	require.Equal(t, automation.ExecutionStatusFailed, details.Execution.Status)
	wait := findLog(t, details.NodeLogs, "wait")
	require.Equal(t, automation.NodeStatusFailed, wait.Status)
	require.Equal(t, "invalid_config", wait.Output.(map[string]any)["error_type"])
}

func TestEngineIsDeterministic(t *testing.T) {
	h := newHarness(t, nil)
	w := newWorkflow(t, "wide", func(g *automation.Graph) {
		g.AddNode(node("trigger", automation.TriggerManual.Kind(), nil))
		for _, id := range []string{"a", "b", "c"} {
			g.AddNode(node(id, automation.KindSetVariable, map[string]any{"key": id, "value": id}))
			g.AddNode(node(id+"_next", automation.KindSetVariable, map[string]any{"key": "last", "value": id}))
			g.Connect("trigger", id, "")
			g.Connect(id, id+"_next", "")
		}
	})

	first := h.run(t, w, nil)
	for range 5 {
		again := h.run(t, w, nil)
		require.Equal(t, trace(first.NodeLogs), trace(again.NodeLogs))
	}
}

func TestEngineReplay(t *testing.T) {
	h := newHarness(t, nil)
	h.crm.PutLead("lead_1", nil)
	first := h.run(t, leadQualificationWorkflow(t), map[string]any{"id": "lead_1", "score": 75})

	replayed, err := h.service.ReplayExecution(context.Background(), first.Execution.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Execution.ID, replayed.ID)
	h.engine.Wait()

	second := h.details(t, replayed.ID)
	require.Equal(t, automation.ExecutionStatusCompleted, second.Execution.Status)
	require.Equal(t, first.Execution.TriggerData, second.Execution.TriggerData)
	require.Equal(t, trace(first.NodeLogs), trace(second.NodeLogs))
}

func TestEngineUsesGraphSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	w := delayedWorkflow(t)
	details := h.run(t, w, map[string]any{"email": "ana@acme.io"})

	// Editing the workflow after the execution started must not change it.
	w.Graph.Nodes[2].Config["subject"] = "edited"
	h.clock.Advance(time.Hour)
	_, err := h.engine.ResumeDue(context.Background())
	require.NoError(t, err)
	h.engine.Wait()

	require.Equal(t, automation.ExecutionStatusCompleted, h.details(t, details.Execution.ID).Execution.Status)
	require.Equal(t, "Welcome ", h.mailer.Sent()[0].Subject)
}

type recordingCallbacks struct {
	automation.BaseExecutionCallbacks
	events []string
}

func (c *recordingCallbacks) AfterExecution(ctx context.Context, event *automation.ExecutionEvent) {
	c.events = append(c.events, "execution:"+string(event.Status))
}

func TestEngineCallbacks(t *testing.T) {
	h := newHarness(t, nil)
	callbacks := &recordingCallbacks{}
	engine, err := automation.NewEngine(automation.EngineOptions{
		Registry:  h.engine.Registry(),
		Store:     h.store,
		Callbacks: callbacks,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), leadQualificationWorkflow(t), map[string]any{"score": 10})
	require.NoError(t, err)
	require.Equal(t, []string{"execution:completed"}, callbacks.events)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := automation.NewEngine(automation.EngineOptions{Store: automation.NewMemoryStore()})
	require.Error(t, err)
	_, err = automation.NewEngine(automation.EngineOptions{Registry: automation.NewRegistry()})
	require.Error(t, err)
}
