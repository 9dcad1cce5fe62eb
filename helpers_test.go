package automation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/nodes"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   *automation.MemoryStore
	engine  *automation.Engine
	service *automation.Service
	crm     *nodes.MemoryCRM
	mailer  *nodes.LogMailer
	clock   *fakeClock
}

// newHarness wires an engine and service over a memory store. A nil
// registry means the standard node set backed by in-memory collaborators.
func newHarness(t *testing.T, registry *automation.Registry) *harness {
	t.Helper()
	h := &harness{
		store:  automation.NewMemoryStore(),
		crm:    nodes.NewMemoryCRM(),
		mailer: nodes.NewLogMailer(),
		clock:  newFakeClock(),
	}
	if registry == nil {
		registry = nodes.NewRegistry(nodes.Options{
			Mailer:    h.mailer,
			CRM:       h.crm,
			Tasks:     h.crm,
			RetryWait: time.Millisecond,
		})
	}
	engine, err := automation.NewEngine(automation.EngineOptions{
		Registry: registry,
		Store:    h.store,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	h.engine = engine

	service, err := automation.NewService(automation.ServiceOptions{
		Store:          h.store,
		Engine:         engine,
		WebhookBaseURL: "https://crm.example.com/",
		Now:            h.clock.Now,
	})
	require.NoError(t, err)
	h.service = service
	return h
}

// run executes w synchronously and returns the stored execution with its
// node logs in trace order.
func (h *harness) run(t *testing.T, w *automation.Workflow, trigger map[string]any) *automation.ExecutionDetails {
	t.Helper()
	exec, err := h.engine.Run(context.Background(), w, trigger)
	require.NoError(t, err)
	return h.details(t, exec.ID)
}

func (h *harness) details(t *testing.T, executionID string) *automation.ExecutionDetails {
	t.Helper()
	details, err := h.service.GetExecutionDetails(context.Background(), executionID)
	require.NoError(t, err)
	return details
}

// customRegistry registers a manual trigger plus the given executors. Their
// configs are left raw on in.Node.Config.
func customRegistry(t *testing.T, executors map[automation.NodeKind]automation.NodeExecutorFunc) *automation.Registry {
	t.Helper()
	r := automation.NewRegistry()
	require.NoError(t, r.Register(&automation.NodeSpec{
		Kind:      automation.TriggerManual.Kind(),
		NewConfig: func() automation.NodeConfig { return &automation.TriggerConfig{} },
		Executor: automation.NodeExecutorFunc(func(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
			return &automation.NodeResult{Output: in.Scope.Trigger}, nil
		}),
	}))
	for kind, fn := range executors {
		require.NoError(t, r.Register(&automation.NodeSpec{
			Kind:      kind,
			NewConfig: func() automation.NodeConfig { return &automation.MergeConfig{} },
			Executor:  fn,
		}))
	}
	return r
}

func newWorkflow(t *testing.T, name string, build func(g *automation.Graph)) *automation.Workflow {
	t.Helper()
	g := &automation.Graph{}
	build(g)
	w, err := automation.New(automation.Options{ID: "wf_" + name, Name: name, Enabled: true, Canvas: g})
	require.NoError(t, err)
	return w
}

func node(id string, kind automation.NodeKind, config map[string]any) *automation.Node {
	return &automation.Node{ID: id, Kind: kind, Label: id, Config: config}
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type logEntry struct {
	NodeID string
	PathID string
	Status automation.NodeStatus
}

func trace(logs []*automation.NodeLog) []logEntry {
	out := make([]logEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, logEntry{NodeID: l.NodeID, PathID: l.PathID, Status: l.Status})
	}
	return out
}

func findLog(t *testing.T, logs []*automation.NodeLog, nodeID string) *automation.NodeLog {
	t.Helper()
	var found *automation.NodeLog
	for _, l := range logs {
		if l.NodeID == nodeID {
			require.Nil(t, found, "node %s has more than one log", nodeID)
			found = l
		}
	}
	require.NotNil(t, found, "no log for node %s", nodeID)
	return found
}
