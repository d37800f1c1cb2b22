package main

import (
	"github.com/aretw0/weave/internal/cli"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume frames from the backplane",
	Long:  `Starts an executor that consumes frames from the configured backplane until interrupted. Point several workers at the same Redis backplane to share the load.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printBanner()
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}
		if cmd.Flags().Changed("max-parallel") {
			cfg.MaxParallel, _ = cmd.Flags().GetInt("max-parallel")
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		err := cli.Worker(ctx, cfg, logger)
		if sig := ctx.Signal(); sig != nil {
			logger.Info("worker stopped", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	workerCmd.Flags().Int("max-parallel", 0, "Frames processed concurrently")
}
