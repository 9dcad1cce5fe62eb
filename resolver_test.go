package automation_test

import (
	"testing"

	"github.com/deepnoodle-ai/automation"
	"github.com/stretchr/testify/require"
)

func testScope() *automation.Scope {
	s := automation.NewScope(map[string]any{
		"name":  "Asha",
		"score": 75,
		"ratio": 0.25,
		"tags":  []any{"vip", "emea"},
		"owner": map[string]any{"email": "rep@acme.io"},
		"note":  nil,
	})
	s.ExecutionID = "exec_1"
	s.WorkflowID = "wf_1"
	s.Workflow = "Qualify"
	s.SetOutput("fetch", map[string]any{"items": []any{map[string]any{"id": "i1"}}})
	s.SetVar("stage", "won")
	return s
}

func TestResolve(t *testing.T) {
	scope := testScope()
	cases := []struct {
		template string
		expected string
		warnings int
	}{
		{"Hello {{trigger.name}}", "Hello Asha", 0},
		{"{{ trigger.score }}/{{trigger.ratio}}", "75/0.25", 0},
		{"tags={{trigger.tags}}", `tags=["vip","emea"]`, 0},
		{"{{trigger.owner.email}}", "rep@acme.io", 0},
		{"{{trigger.tags.1}}", "emea", 0},
		{"{{nodes.fetch.items.0.id}}", "i1", 0},
		{"{{vars.stage}} in {{workflow.name}} ({{execution.id}})", "won in Qualify (exec_1)", 0},
		{"[{{trigger.note}}]", "[]", 0},
		{"[{{trigger.missing}}]", "[]", 1},
		{"{{nodes.nope.field}} and {{vars.nope}}", " and ", 2},
		{"no placeholders", "no placeholders", 0},
	}
	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			out, warnings := automation.Resolve(tc.template, scope)
			require.Equal(t, tc.expected, out)
			require.Len(t, warnings, tc.warnings)
		})
	}

	_, warnings := automation.Resolve("{{trigger.missing}}", scope)
	require.Equal(t, []string{`unresolved variable "trigger.missing"`}, warnings)
}

func TestResolveValue(t *testing.T) {
	out, warnings := automation.ResolveValue(map[string]any{
		"score":   "{{trigger.score}}",
		"label":   "score {{trigger.score}}",
		"owner":   "{{trigger.owner}}",
		"nested":  []any{"{{trigger.name}}", 3.0},
		"missing": "{{trigger.nope}}",
	}, testScope())
	require.Equal(t, map[string]any{
		"score":   75.0,
		"label":   "score 75",
		"owner":   map[string]any{"email": "rep@acme.io"},
		"nested":  []any{"Asha", 3.0},
		"missing": "",
	}, out)
	require.Len(t, warnings, 1)
}

func TestCompare(t *testing.T) {
	cases := []struct {
		left     string
		op       automation.Operator
		right    string
		expected bool
	}{
		{"won", automation.OpEquals, "won", true},
		{"won", automation.OpEquals, "Won", false},
		{"won", automation.OpNotEquals, "lost", true},
		{"ana@acme.io", automation.OpContains, "@acme", true},
		{"75", automation.OpGreaterThan, "50", true},
		{"9", automation.OpGreaterThan, "10", false},
		{"9", automation.OpLessThan, "10", true},
		{"abc", automation.OpGreaterThan, "1", false},
		{"abc", automation.OpLessThan, "1", false},
		{"inf", automation.OpGreaterThan, "50", false},
		{"-Infinity", automation.OpLessThan, "50", false},
		{"NaN", automation.OpLessThan, "50", false},
		{"75", automation.OpGreaterThan, "+Inf", false},
		{"1e3", automation.OpGreaterThan, "50", true},
		{" ", automation.OpIsEmpty, "", true},
		{"x", automation.OpIsNotEmpty, "", true},
	}
	for _, tc := range cases {
		got, err := automation.Compare(tc.left, tc.op, tc.right)
		require.NoError(t, err)
		require.Equal(t, tc.expected, got, "%q %s %q", tc.left, tc.op, tc.right)
	}

	_, err := automation.Compare("1", "between", "2")
	require.Error(t, err)
}

func TestScopeCloneIsolatesPaths(t *testing.T) {
	parent := testScope()
	child := parent.Clone()
	child.SetVar("stage", "lost")
	child.SetOutput("extra", 1.0)

	require.Equal(t, "won", parent.Vars["stage"])
	require.NotContains(t, parent.Nodes, "extra")
	require.Equal(t, parent.Trigger, child.Trigger)
}
