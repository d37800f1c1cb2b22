package main

import (
	"github.com/aretw0/weave/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <graph>",
	Short: "Run a graph to completion",
	Long: `Publishes the graph to the configured stores and drives it with an in-process executor until the run ends.
With --local the graph is walked directly, without compiling or persisting anything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		local, _ := cmd.Flags().GetBool("local")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.Run(ctx, cli.RunOptions{
			GraphPath: args[0],
			Input:     input,
			Local:     local,
			Timeout:   timeout,
		}, cfg, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("input", "i", "", "Initial run state as a JSON object")
	runCmd.Flags().Bool("local", false, "Walk the graph in-process without persistence")
	runCmd.Flags().Duration("timeout", 0, "Give up waiting for the run after this long")
}
