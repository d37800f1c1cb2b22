package main

import (
	"fmt"

	"github.com/aretw0/weave/internal/cli"
	"github.com/aretw0/weave/pkg/loader"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph>",
	Short: "Check a graph for structural errors",
	Long:  `Loads a YAML or JSON graph and reports every validation issue. Exits non-zero when an error-level issue is found.`,
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
		report := engine.Validate(g)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := printJSON(cmd, report); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			for _, is := range report.Issues {
				node := ""
				if is.NodeID != "" {
					node = " [" + is.NodeID + "]"
				}
				fmt.Fprintf(out, "%-7s %s%s: %s\n", is.Level, is.Code, node, is.Message)
			}
			if report.OK {
				fmt.Fprintln(out, "Graph is valid.")
			}
		}
		if !report.OK {
			return fmt.Errorf("graph %s is invalid (%d errors)", g.WorkflowID(), len(report.Errors()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("json", false, "Print the report as JSON")
}
