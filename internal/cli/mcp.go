package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	fgmcp "github.com/ppiankov/flowguard/internal/mcp"
)

var (
	mcpPolicy   string
	mcpAuditLog string
	mcpSubject  string
	mcpNoReload bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to JSONL decision log (append)")
	mcpCmd.Flags().StringVar(&mcpSubject, "subject", "agent", "Subject identifier for authority checks")
	mcpCmd.Flags().BoolVar(&mcpNoReload, "no-reload", false, "Disable policy hot-reload on file change")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP gateway for agent integration",
	Long: "Runs flowguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes the tracking and enforcement tools: track, control, verify,\n" +
		"check, mint, delegate, revoke.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv, err := fgmcp.New(fgmcp.Config{
		PolicyPath:   mcpPolicy,
		AuditLogPath: mcpAuditLog,
		Subject:      mcpSubject,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP gateway: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP gateway...")
		cancel()
	}()

	if mcpPolicy != "" && !mcpNoReload {
		reloader, err := fgmcp.NewReloader(srv, mcpPolicy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "policy hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	fmt.Fprintln(os.Stderr, "flowguard MCP gateway running on stdio")
	return srv.Run(ctx)
}
