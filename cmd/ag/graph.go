package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/archgraph/internal/client"
	"github.com/alfredjeanlab/archgraph/internal/model"
)

var explainCmd = &cobra.Command{
	Use:   "explain <key>",
	Short: "Show the neighbourhood of a class, method or endpoint",
	Long: `Explain walks the graph outward from one entity and prints every entity
and relationship within --depth hops.

Keys are natural keys:
  class     com.acme.UserService
  method    com.acme.UserService#getUsers()
  endpoint  "GET /api/users"`,
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		types, _ := cmd.Flags().GetStringSlice("type")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		req := &client.ExplainRequest{
			Root:     args[0],
			Depth:    depth,
			MaxNodes: maxNodes,
			Timeout:  timeout,
		}
		for _, t := range types {
			req.EdgeTypes = append(req.EdgeTypes, model.EdgeType(strings.ToUpper(t)))
		}

		sg, err := graphClient.Explain(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("explaining %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sg)
		}
		printSubgraphTree(cmd.OutOrStdout(), sg)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List entities in the graph",
	GroupID: "graph",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		req := &client.ListEntitiesRequest{}
		req.Label, _ = cmd.Flags().GetString("label")
		req.Package, _ = cmd.Flags().GetString("package")
		req.Search, _ = cmd.Flags().GetString("search")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Offset, _ = cmd.Flags().GetInt("offset")
		for _, k := range kinds {
			req.Kind = append(req.Kind, model.Kind(strings.ToLower(k)))
		}

		page, err := graphClient.ListEntities(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing entities: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), page)
		}
		if page.Total == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No entities found.")
			return nil
		}
		printEntityTable(cmd.OutOrStdout(), page)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <key>",
	Short:   "Show every attribute of one entity",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := graphClient.Show(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("showing %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), n)
		}
		printNode(cmd.OutOrStdout(), n)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show entity and relationship counts",
	GroupID: "graph",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := graphClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	explainCmd.Flags().Int("depth", 0, "maximum hops from the root (server default when 0)")
	explainCmd.Flags().StringSlice("type", nil, "edge types to follow (CALLS, DEPENDS_ON, EXPOSES_ENDPOINT, HAS_METHOD)")
	explainCmd.Flags().Int("max-nodes", 0, "stop after this many entities (server default when 0)")
	explainCmd.Flags().Duration("timeout", 0, "traversal deadline (server default when 0)")

	listCmd.Flags().StringSlice("kind", nil, "entity kinds to list (class, method, endpoint)")
	listCmd.Flags().String("label", "", "only entities with this label")
	listCmd.Flags().String("package", "", "only entities in this package")
	listCmd.Flags().String("search", "", "case-insensitive substring of key or name")
	listCmd.Flags().Int("limit", 50, "page size")
	listCmd.Flags().Int("offset", 0, "entities to skip")
}
