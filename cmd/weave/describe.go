package main

import (
	"fmt"
	"os"

	"github.com/aretw0/weave/internal/cli"
	"github.com/aretw0/weave/internal/presentation/graph"
	"github.com/aretw0/weave/internal/presentation/tui"
	"github.com/aretw0/weave/pkg/loader"
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe <graph>",
	Short: "Summarize a graph and its validation issues",
	Long:  `Prints the nodes, ports, edges and validation issues of a graph as Markdown. On a terminal the Markdown is rendered.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := loader.Load(args[0])
		if err != nil {
			return err
		}
		engine, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		md := graph.Describe(g, engine.Validate(g))

		raw, _ := cmd.Flags().GetBool("raw")
		if f, ok := cmd.OutOrStdout().(*os.File); ok && !raw && tui.IsTerminal(f) {
			render, err := tui.NewRenderer(tui.TerminalWidth(f))
			if err != nil {
				return err
			}
			if md, err = render(md); err != nil {
				return err
			}
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), md)
		return err
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().Bool("raw", false, "Print Markdown without rendering")
}
