// Command automation runs the workflow automation server and provides
// tools for running, validating, and inspecting workflows.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile string
	logLevel   string
	jsonOutput bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "automation",
		Short:         "CRM workflow automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(
		newServeCommand(flags),
		newRunCommand(flags),
		newValidateCommand(),
		newExportCommand(flags),
		newExecutionsCommand(flags),
	)
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("automation %s\n", version))
	return cmd
}

var version = "dev"
