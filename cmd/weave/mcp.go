package main

import (
	"github.com/aretw0/weave/internal/cli"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine over the Model Context Protocol",
	Long: `Exposes graph validation, publishing and run control as MCP tools.

By default the server speaks over stdin and stdout, ready to be launched by an
MCP client. With --sse it listens for HTTP clients instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sse, _ := cmd.Flags().GetString("sse")
		withWorker, _ := cmd.Flags().GetBool("worker")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.MCP(ctx, cli.MCPOptions{SSEAddr: sse, WithWorker: withWorker}, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("sse", "", "Listen on this address with the SSE transport (e.g. :8090)")
	mcpCmd.Flags().Bool("worker", true, "Also run an executor in this process")
}
