package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	"github.com/jeffjacobsen/orchestrator/internal/orchestrator"
	"github.com/jeffjacobsen/orchestrator/internal/storage"
)

var (
	execTaskType     string
	execMode         string
	execUseAIPlanner bool
)

var executeCmd = &cobra.Command{
	Use:   "execute [task description]",
	Short: "Plan and run a multi-agent workflow for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&execTaskType, "task-type", "auto",
		"task type (auto, implementation, fix, feature_implementation, bug_fix, refactoring, documentation, testing, code_review, investigation)")
	executeCmd.Flags().StringVar(&execMode, "mode", "auto",
		"execution mode override (auto, sequential, parallel)")
	executeCmd.Flags().BoolVar(&execUseAIPlanner, "use-ai-planner", false,
		"plan the workflow with a planner agent instead of templates")
}

func runExecute(cmd *cobra.Command, args []string) error {
	description := args[0]
	for _, arg := range args[1:] {
		description += " " + arg
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newCLILogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	adapter := storage.NewAdapter(store, log)
	if err := adapter.Start(eventBus); err != nil {
		return fmt.Errorf("start storage adapter: %w", err)
	}
	defer adapter.Stop()

	client := claude.NewCLIClient("", log)
	orc := orchestrator.New(*cfg, client, eventBus, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer orc.Stop(ctx)

	fmt.Printf("%s %s\n", bold("Task:"), description)
	fmt.Printf("%s type=%s mode=%s ai-planner=%v\n\n", bold("Plan:"), execTaskType, execMode, execUseAIPlanner)

	result, err := orc.Execute(ctx, orchestrator.ExecuteRequest{
		Description:  description,
		TaskType:     execTaskType,
		Mode:         execMode,
		UseAIPlanner: execUseAIPlanner,
	})
	if err != nil {
		return err
	}

	if result.Success {
		fmt.Println(green("Workflow completed"))
	} else {
		fmt.Println(red("Workflow failed"))
		if result.Error != "" {
			fmt.Printf("%s %s\n", bold("Error:"), result.Error)
		}
	}

	fmt.Printf("\n%s\n%s\n", bold("Output:"), result.Output)
	fmt.Printf("\n%s tokens=%d cost=$%.4f tool_calls=%d\n",
		bold("Usage:"),
		result.Metrics.TotalTokens,
		result.Metrics.TotalCostUSD,
		result.Metrics.ToolCallCount,
	)
	if len(result.Artifacts) > 0 {
		fmt.Printf("%s\n", bold("Artifacts:"))
		for _, a := range result.Artifacts {
			fmt.Printf("  %s\n", a)
		}
	}

	if !result.Success {
		return errors.New("workflow failed")
	}
	return nil
}
