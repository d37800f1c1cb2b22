package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/internal/cli"
	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "weave",
	Short:         "Weave is a durable workflow orchestration engine",
	Long:          `Weave compiles workflow graphs into programs for a small virtual machine and runs them on a pool of executors with checkpointed, resumable state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("WEAVE_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().String("store", "", "State store driver (memory, file, sqlite, mysql, redis)")
	rootCmd.PersistentFlags().String("store-path", "", "Directory or database file of the file and sqlite stores")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address")
	rootCmd.PersistentFlags().String("backplane", "", "Backplane (memory, redis)")
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	override := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	override("log-level", &loaded.LogLevel)
	override("log-format", &loaded.LogFormat)
	override("store", &loaded.Store.Driver)
	override("store-path", &loaded.Store.Path)
	override("redis-addr", &loaded.Redis.Addr)
	override("backplane", &loaded.Backplane)
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	logger = cli.NewLogger(cfg)
	return nil
}

// printBanner greets long-running commands started from a terminal.
func printBanner() {
	if tui.IsTerminal(os.Stderr) {
		tui.PrintBanner(os.Stderr, weave.Version)
	}
}
