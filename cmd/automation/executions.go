package main

import (
	"github.com/deepnoodle-ai/automation"
	"github.com/spf13/cobra"
)

func newExecutionsCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect stored executions",
	}

	var filter automation.ExecutionFilter
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			filter.Status = automation.ExecutionStatus(status)
			execs, err := a.service.ListExecutions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), execs)
			}
			printExecutions(cmd.OutOrStdout(), execs)
			return nil
		},
	}
	list.Flags().StringVarP(&filter.WorkflowID, "workflow", "w", "", "only executions of this workflow")
	list.Flags().StringVarP(&status, "status", "s", "", "only executions with this status")
	list.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of executions")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show an execution and its node logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			details, err := a.service.GetExecutionDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), details)
			}
			printDetails(cmd.OutOrStdout(), details)
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running or suspended execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			return a.service.CancelExecution(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, show, cancel)
	return cmd
}
