package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowguard",
	Short: "Runtime trust enforcement for AI agent tool calls",
	Long:  "Tracks integrity and confidentiality labels through the agent's data flow and decides every external tool call against policy before it is dispatched. Enforcement, not observability.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
