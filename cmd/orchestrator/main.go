// Command orchestrator is the terminal front-end for the multi-agent
// orchestrator. Workflow runs happen in-process; fleet history is read
// from the local store.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/storage"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Multi-agent workflow orchestrator for Claude Code",
	Long: `orchestrator plans and runs multi-agent coding workflows.

A task description is broken into role-scoped steps (analyst, builder,
tester, ...), each step runs as its own Claude Code session, and distilled
context flows between them.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listAgentsCmd)
	rootCmd.AddCommand(listTasksCmd)
	rootCmd.AddCommand(agentDetailsCmd)
	rootCmd.AddCommand(taskDetailsCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(costReportCmd)
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration, forcing a durable store so fleet
// history survives between invocations.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver == "" || cfg.Database.Driver == "memory" {
		cfg.Database.Driver = "sqlite"
	}
	return cfg, nil
}

func newCLILogger(cfg *config.Config) (*logger.Logger, error) {
	level := cfg.Logging.Level
	if level == "" {
		level = "warn"
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      level,
		Format:     "console",
		OutputPath: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	store, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return green(status)
	case "failed":
		return red(status)
	case "running", "in_progress":
		return cyan(status)
	case "waiting", "pending":
		return yellow(status)
	default:
		return status
	}
}
