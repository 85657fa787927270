package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/archgraph/internal/config"
	"github.com/alfredjeanlab/archgraph/internal/facts"
	"github.com/alfredjeanlab/archgraph/internal/ui"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a JSONL fact stream (from a file or stdin)",
	Long: `Ingest sends a parser's fact stream to the server and prints the run summary.

Each line is one fact: {"type": "class|method|endpoint|call|dependency|exposure",
"unit": "<source file>", "data": {...}}. With --project, facts from units
outside the project's scope rules are dropped before sending.`,
	GroupID: "data",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fullResync, _ := cmd.Flags().GetBool("full-resync")
		projectFile, _ := cmd.Flags().GetString("project")
		maxIssues, _ := cmd.Flags().GetInt("max-issues")

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		if projectFile != "" {
			scoped, err := applyProjectScope(cmd.ErrOrStderr(), in, projectFile)
			if err != nil {
				return err
			}
			in = scoped
		}

		sum, err := graphClient.Ingest(cmd.Context(), in, fullResync)
		if err != nil {
			return fmt.Errorf("ingesting: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sum)
		}
		printRunSummary(cmd.OutOrStdout(), sum, maxIssues)
		return nil
	},
}

// applyProjectScope drops out-of-scope facts locally and re-encodes the
// rest. Lines that do not parse are reported on errOut and not sent.
func applyProjectScope(errOut io.Writer, in io.Reader, projectFile string) (io.Reader, error) {
	p, err := config.LoadProject(projectFile)
	if err != nil {
		return nil, err
	}
	filter, err := p.Filter()
	if err != nil {
		return nil, err
	}

	batch, rejected, err := facts.ReadAll(in)
	if err != nil {
		return nil, err
	}
	for _, is := range rejected {
		fmt.Fprintf(errOut, "%s fact #%d: %s\n", ui.RenderWarn("skipping"), is.Seq, is.Message)
	}
	kept, dropped := filter.Apply(batch)
	if dropped > 0 {
		fmt.Fprintf(errOut, "%d facts out of scope for %s\n", dropped, projectFile)
	}

	var buf bytes.Buffer
	if err := facts.WriteAll(&buf, kept); err != nil {
		return nil, err
	}
	return &buf, nil
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export the committed graph as JSONL",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		var w io.Writer = cmd.OutOrStdout()
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := graphClient.Export(cmd.Context(), w); err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
		return nil
	},
}

var generationsCmd = &cobra.Command{
	Use:     "generations",
	Short:   "List committed ingestion generations, newest first",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		gens, err := graphClient.Generations(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("listing generations: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), gens)
		}
		printGenerations(cmd.OutOrStdout(), gens)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("full-resync", false, "prune relationships of re-ingested entities not seen in this run")
	ingestCmd.Flags().String("project", os.Getenv("ARCHGRAPH_PROJECT_FILE"), "project TOML with scope rules")
	ingestCmd.Flags().Int("max-issues", 20, "issues to print before summarizing")

	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	generationsCmd.Flags().Int("limit", 20, "generations to list")
}
