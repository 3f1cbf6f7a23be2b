// Package main implements the spectrad CLI: it runs analysis workflow
// sessions and manages their checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/spectrad/internal/config"
)

var (
	configPath string
	logLevel   string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spectrad",
	Short: "Analysis workflow orchestration daemon",
	Long: `spectrad orchestrates multi-stage analysis workflows: a request is
analyzed, decomposed into a task plan, routed to specialized workers,
reviewed for quality and safety, and supervised to completion. Sessions
are checkpointed after every stage and survive backend outages.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/spectrad/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(initCmd)
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// initCmd prepares the config directory for a fresh install.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the spectrad config directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config directory ready")
		return nil
	},
}
