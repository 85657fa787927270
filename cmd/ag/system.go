package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/archgraph/internal/mcpserver"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the archgraph server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := graphClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": status})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve graph queries as MCP tools over stdio",
	Long: `mcp runs a Model Context Protocol server on stdin/stdout. Its tools
(explain, list_entities, show_entity, graph_stats) query the archgraph
server at --http-url.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return mcpserver.New(graphClient, version).Run(ctx)
	},
}
