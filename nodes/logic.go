package nodes

import (
	"context"
	"strconv"
	"time"

	"github.com/deepnoodle-ai/automation"
)

func executeIfElse(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.IfElseConfig)
	left := in.Field(cfg.Field)
	right := in.Resolve(cfg.Value)
	decision, err := automation.Compare(left, cfg.Operator, right)
	if err != nil {
		return nil, err
	}
	branch := strconv.FormatBool(decision)
	return &automation.NodeResult{
		Output: map[string]any{
			"decision": decision,
			"branch":   branch,
			"left":     left,
			"operator": string(cfg.Operator),
			"right":    right,
		},
		Branch: branch,
	}, nil
}

// executeSwitch selects the first case equal to the field value, or
// "default" when none matches.
func executeSwitch(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.SwitchConfig)
	value := in.Field(cfg.Field)
	matched := "default"
	for _, c := range cfg.Cases {
		if c == value {
			matched = c
			break
		}
	}
	return &automation.NodeResult{
		Output: map[string]any{
			"value":   value,
			"matched": matched,
			"branch":  matched,
		},
		Branch: matched,
	}, nil
}

// executeDelay suspends the path. The engine persists the resume time and
// continues the path once it has passed.
func executeDelay(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.DelayConfig)
	delay := time.Duration(cfg.Minutes * float64(time.Minute))
	return &automation.NodeResult{
		Output: map[string]any{
			"minutes":   cfg.Minutes,
			"resume_at": in.Now.Add(delay).UTC().Format(time.RFC3339),
		},
		Delay: delay,
	}, nil
}

// executeMerge passes through. Each continuation arriving at a merge node
// runs it and everything after it once.
func executeMerge(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	return &automation.NodeResult{Output: map[string]any{"path_id": in.PathID}}, nil
}
