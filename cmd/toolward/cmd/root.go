// Package cmd provides the CLI commands for toolward.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolward/toolward/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolward",
	Short: "Toolward - tool call approval and audit pipeline",
	Long: `Toolward sits between an AI agent and its tools. Every tool call is
validated, dry-run, and checked against policy before anything executes;
mutating calls get a filesystem snapshot first, and every state transition
lands in a tamper-evident audit log.

Quick start:
  1. Create a config file: toolward config init
  2. Run: toolward run

Configuration:
  Config is loaded from toolward.yaml in the current directory,
  $HOME/.toolward/, or /etc/toolward/.

  Environment variables can override config values with the TOOLWARD_ prefix.
  Example: TOOLWARD_AUDIT_BACKEND=memory

Commands:
  run         Run an interactive approval session on stdin
  tools       List the registered tool catalog
  policy      Validate policy rules
  audit       Query and verify the audit log
  config      Inspect and scaffold configuration
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolward.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
