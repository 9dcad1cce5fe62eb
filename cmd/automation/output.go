package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/deepnoodle-ai/automation"
	"github.com/fatih/color"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status string) *color.Color {
	switch status {
	case string(automation.ExecutionStatusCompleted), string(automation.NodeStatusSuccess):
		return color.New(color.FgGreen)
	case string(automation.ExecutionStatusFailed):
		return color.New(color.FgRed)
	case string(automation.ExecutionStatusCancelled), string(automation.NodeStatusSkipped):
		return color.New(color.FgYellow)
	}
	return color.New(color.FgCyan)
}

func printExecutions(w io.Writer, execs []*automation.Execution) {
	if len(execs) == 0 {
		fmt.Fprintln(w, "No executions")
		return
	}
	for _, e := range execs {
		fmt.Fprintf(w, "%s  %-22s  %s  %s\n",
			e.ID, e.WorkflowName, statusColor(string(e.Status)).Sprintf("%-9s", e.Status),
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func printDetails(w io.Writer, details *automation.ExecutionDetails) {
	exec := details.Execution
	fmt.Fprintf(w, "Execution %s (%s)\n", exec.ID, exec.WorkflowName)
	fmt.Fprintf(w, "Status: %s\n", statusColor(string(exec.Status)).Sprint(exec.Status))
	if exec.ErrorMessage != "" {
		color.New(color.FgRed).Fprintf(w, "Error: %s\n", exec.ErrorMessage)
	}
	fmt.Fprintln(w)
	for _, l := range details.NodeLogs {
		path := l.PathID
		if path == "" {
			path = "-"
		}
		line := fmt.Sprintf("  %-8s %-20s %-24s %s", path, l.NodeID, l.NodeType,
			statusColor(string(l.Status)).Sprint(l.Status))
		switch {
		case l.ErrorMessage != "":
			line += ": " + l.ErrorMessage
		case l.SkipReason != "":
			line += ": " + l.SkipReason
		case l.Branch != "":
			line += " -> " + l.Branch
		}
		fmt.Fprintln(w, line)
		if len(l.Warnings) > 0 {
			color.New(color.FgYellow).Fprintf(w, "           warnings: %s\n", strings.Join(l.Warnings, "; "))
		}
	}
}
