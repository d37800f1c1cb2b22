package main

import (
	"github.com/aretw0/weave/internal/cli"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <graph>",
	Short: "Print a Mermaid flowchart of a graph",
	Long: `Renders a YAML or JSON graph as a Mermaid flowchart.

With --run the nodes executed by a durable run are highlighted, reading its
checkpoint from the configured store. With --local the graph is walked
in-process first and the visited and skipped nodes are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		local, _ := cmd.Flags().GetBool("local")
		input, _ := cmd.Flags().GetString("input")

		opts := cli.GraphOptions{GraphPath: args[0], RunID: runID, Local: local, Input: input}
		return cli.Graph(cmd.Context(), opts, cfg, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("run", "", "Highlight the progress of this run")
	graphCmd.Flags().Bool("local", false, "Walk the graph in-process and highlight the path")
	graphCmd.Flags().StringP("input", "i", "", "Initial state for --local as a JSON object")
	graphCmd.MarkFlagsMutuallyExclusive("run", "local")
}
