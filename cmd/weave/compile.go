package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/weave/internal/cli"
	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/pkg/loader"
	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <graph>",
	Short: "Compile a graph and print the program",
	Long:  `Compiles a YAML or JSON graph. Prints the artifact (program, report and cost estimate) as JSON, or a listing of the instructions with --disasm.`,
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
		art := engine.Compile(g)
		if !art.Validation.OK {
			_ = printJSON(cmd, art.Validation)
			return fmt.Errorf("graph %s is invalid", g.WorkflowID())
		}

		if disasm, _ := cmd.Flags().GetBool("disasm"); disasm {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "; program %s (%s), %d locals, estimated cost %d\n",
				art.Program.ID, art.Program.WorkflowID, art.Program.Locals, art.Estimate.Total)
			fmt.Fprint(out, compiler.Disassemble(art.Program))
			return nil
		}
		return printJSON(cmd, art)
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().Bool("disasm", false, "Print an instruction listing instead of JSON")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
