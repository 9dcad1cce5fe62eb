package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/nodes"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRunCommand(flags *rootFlags) *cobra.Command {
	var (
		file    string
		inputs  []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow definition file once",
		Example: `  # Run a workflow with trigger data
  automation run -f welcome.yaml -i email=ana@acme.io -i score=72`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			w, err := loadWorkflow(file, a.engine.Registry())
			if err != nil {
				return err
			}
			if !flags.jsonOutput {
				color.Cyan("Workflow: %s", w.Name)
			}

			start := time.Now()
			exec, err := a.engine.Run(ctx, w, trigger)
			if err != nil {
				return err
			}
			details, err := a.service.GetExecutionDetails(context.WithoutCancel(ctx), exec.ID)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), details)
			}
			color.White("Execution finished in %v", time.Since(start).Round(time.Millisecond))
			printDetails(cmd.OutOrStdout(), details)
			if exec.Status == automation.ExecutionStatusFailed {
				return errors.New("execution failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the YAML workflow definition file (required)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "trigger field in key=value format (repeatable)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "execution timeout (e.g. 30s, 5m)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := nodes.NewRegistry(nodes.Options{})
			failed := 0
			for _, path := range args {
				if _, err := loadWorkflow(path, registry); err != nil {
					color.Red("✗ %s: %v", path, err)
					failed++
					continue
				}
				color.Green("✓ %s", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflows invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newExportCommand(flags *rootFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Print the canvas document of a workflow file or stored workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			switch {
			case id != "" && len(args) == 0:
				a, err := openApp(cmd.Context(), flags)
				if err != nil {
					return err
				}
				defer a.close()
				data, err = a.service.ExportWorkflow(cmd.Context(), id)
				if err != nil {
					return err
				}
			case id == "" && len(args) == 1:
				w, err := loadWorkflow(args[0], nodes.NewRegistry(nodes.Options{}))
				if err != nil {
					return err
				}
				data, err = w.Graph.MarshalCanvas()
				if err != nil {
					return err
				}
			default:
				return errors.New("pass either a workflow file or --id")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "id of a stored workflow")
	return cmd
}

// loadWorkflow reads a YAML definition and validates its node configs.
func loadWorkflow(path string, registry *automation.Registry) (*automation.Workflow, error) {
	w, err := automation.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := registry.ValidateGraph(w.Graph); err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = automation.NewWorkflowID()
	}
	return w, nil
}

// parseInputs converts key=value pairs to trigger data. Values are parsed
// as JSON if possible, otherwise kept as strings.
func parseInputs(inputs []string) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for _, input := range inputs {
		key, value, ok := strings.Cut(input, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, use key=value", input)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		out[key] = parsed
	}
	return out, nil
}
