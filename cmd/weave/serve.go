package main

import (
	"github.com/aretw0/weave/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Exposes validation, compilation, publishing and run control as a JSON API over HTTP, with per-run event streams and Prometheus metrics.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printBanner()
		addr, _ := cmd.Flags().GetString("addr")
		withWorker, _ := cmd.Flags().GetBool("worker")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.Serve(ctx, cli.ServeOptions{Addr: addr, WithWorker: withWorker}, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (default from config)")
	serveCmd.Flags().Bool("worker", true, "Also run an executor in this process")
}
