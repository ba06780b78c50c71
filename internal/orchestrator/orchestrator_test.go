package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	"github.com/jeffjacobsen/orchestrator/internal/storage"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Agent = config.AgentConfig{
		Model:         "claude-sonnet-4-5",
		WorkingDir:    t.TempDir(),
		LogDir:        t.TempDir(),
		MaxConcurrent: 4,
	}
	cfg.Orchestrator = config.OrchestratorConfig{MonitorInterval: 1, ContextWarningRatio: 0.8}
	return cfg
}

func okScript(output string) []claude.Message {
	return []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{claude.TextBlock{Text: output}}},
		&claude.ResultMessage{Subtype: "success", SessionID: "s", TotalCostUSD: 0.01,
			Usage: claude.Usage{InputTokens: 100, OutputTokens: 25}},
	}
}

func TestExecuteSimpleTask(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("## Summary\ndone"))
	o := New(testConfig(t), q, nil, nil)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Description: "fix the typo in the usage string",
		TaskType:    "implementation",
		Mode:        "auto",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("task failed: %s", result.Error)
	}
	if result.AgentID != AggregateAgentID {
		t.Errorf("agent id = %q", result.AgentID)
	}
	// simple implementation = builder + tester
	if got := len(q.Calls()); got != 2 {
		t.Errorf("queries = %d, want 2", got)
	}
	if !strings.Contains(result.Output, "]: ") {
		t.Errorf("aggregate output not labeled per agent:\n%s", result.Output)
	}
	// both agents' usage folded in
	if result.Metrics.TotalTokens != 250 {
		t.Errorf("tokens = %d", result.Metrics.TotalTokens)
	}

	tasks := o.ListTasks()
	if len(tasks) != 1 || tasks[0].Status != v1.TaskCompleted {
		t.Errorf("tasks = %+v", tasks)
	}
	// workflow agents cleaned up after the run
	if got := len(o.ListAgents(registry.ListFilter{})); got != 0 {
		t.Errorf("%d agents left after workflow", got)
	}
}

func TestExecuteRequiresDescription(t *testing.T) {
	q := claude.NewScriptedQuerier()
	o := New(testConfig(t), q, nil, nil)
	if _, err := o.Execute(context.Background(), ExecuteRequest{Description: "  "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExecuteFailedStepFailsAggregate(t *testing.T) {
	q := claude.NewScriptedQuerier([]claude.Message{
		&claude.ResultMessage{Subtype: "error_during_execution", IsError: true, Result: "broke"},
	})
	o := New(testConfig(t), q, nil, nil)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Description: "fix the typo", TaskType: "testing",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("aggregate should fail when a step fails")
	}
	if result.Error == "" {
		t.Error("aggregate error should carry the step error")
	}
	task, _ := o.GetTask(o.ListTasks()[0].TaskID)
	if task.Status != v1.TaskFailed {
		t.Errorf("task status = %s", task.Status)
	}
}

func TestExecuteParallelModeOverride(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("done"))
	o := New(testConfig(t), q, nil, nil)

	_, err := o.Execute(context.Background(), ExecuteRequest{
		Description: "redesign the ingest architecture across multiple services",
		TaskType:    "feature_implementation",
		Mode:        "parallel",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	plan := o.ListTasks()[0]
	for i, st := range plan.Subtasks {
		if st.ExecutionMode != v1.ModeParallel {
			t.Errorf("step %d mode = %s", i, st.ExecutionMode)
		}
	}
}

func TestExecuteCustomWorkflow(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("reviewed"))
	o := New(testConfig(t), q, nil, nil)

	result, err := o.ExecuteCustom(context.Background(), "review the diff", []v1.Subtask{
		{Role: v1.RoleReviewer, Description: "review the attached diff"},
	})
	if err != nil {
		t.Fatalf("ExecuteCustom: %v", err)
	}
	if !result.Success {
		t.Fatalf("custom workflow failed: %s", result.Error)
	}
}

func TestExecuteCustomRejectsInvalidPlan(t *testing.T) {
	q := claude.NewScriptedQuerier()
	o := New(testConfig(t), q, nil, nil)
	_, err := o.ExecuteCustom(context.Background(), "bad", []v1.Subtask{
		{Role: v1.RoleBuilder, Description: "build", DependsOn: []int{0}},
	})
	if err == nil {
		t.Fatal("self-dependency should be rejected")
	}
}

func TestManualAgentLifecycle(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("hi"))
	o := New(testConfig(t), q, nil, nil)
	ctx := context.Background()

	sess, err := o.CreateAgent(ctx, v1.AgentConfig{Name: "helper", Role: v1.RoleCustom, SessionID: "resume-1"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	reply, err := o.SendToAgent(ctx, sess.ID(), "hello")
	if err != nil {
		t.Fatalf("SendToAgent: %v", err)
	}
	if reply != "hi" {
		t.Errorf("reply = %q", reply)
	}

	details, err := o.AgentDetails(sess.ID())
	if err != nil {
		t.Fatalf("AgentDetails: %v", err)
	}
	if details.Status != v1.StatusWaiting {
		t.Errorf("status = %s", details.Status)
	}
	if details.ContextInfo.MaxTokens == 0 {
		t.Error("context window not reported")
	}

	if err := o.DeleteAgent(ctx, sess.ID()); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := o.AgentDetails(sess.ID()); err == nil {
		t.Error("deleted agent still resolvable")
	}
}

func TestStatusCountsTasksAndFleet(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("done"))
	o := New(testConfig(t), q, nil, nil)
	ctx := context.Background()

	o.Execute(ctx, ExecuteRequest{Description: "fix the typo", TaskType: "testing"})
	o.CreateAgent(ctx, v1.AgentConfig{Name: "helper"})

	status := o.Status()
	if status.Tasks != 1 {
		t.Errorf("tasks = %d", status.Tasks)
	}
	if status.ActiveTasks != 0 {
		t.Errorf("active tasks = %d", status.ActiveTasks)
	}
	if status.Fleet.TotalAgents != 1 {
		t.Errorf("fleet = %+v", status.Fleet)
	}
	if status.UsageSummary.Samples == 0 {
		t.Error("usage summary empty")
	}
}

func TestTaskEventsPublished(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	var mu sync.Mutex
	var seen []string
	eventBus.Subscribe(events.AllTaskEvents, func(ctx context.Context, ev *bus.Event) error {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		return nil
	})

	q := claude.NewScriptedQuerier(okScript("done"))
	o := New(testConfig(t), q, eventBus, nil)
	o.Execute(context.Background(), ExecuteRequest{Description: "fix the typo", TaskType: "testing"})

	mu.Lock()
	defer mu.Unlock()
	want := []string{events.TaskPlanned, events.TaskUpdated, events.TaskCompleted}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestWorkflowAgentsSurviveInStore(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	store := storage.NewMemoryStore()
	adapter := storage.NewAdapter(store, nil)
	if err := adapter.Start(eventBus); err != nil {
		t.Fatalf("adapter start: %v", err)
	}
	defer adapter.Stop()

	q := claude.NewScriptedQuerier(okScript("## Summary\ndone"))
	o := New(testConfig(t), q, eventBus, nil)

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Description: "fix the typo in the usage string",
		TaskType:    "implementation",
	})
	if err != nil || !result.Success {
		t.Fatalf("Execute: %v / %+v", err, result)
	}

	// the workflow deleted its agents, but their records must survive for
	// cost reporting
	records, err := store.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("persisted %d agent records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Status != v1.StatusCompleted {
			t.Errorf("agent %s status = %s, want completed", rec.ID, rec.Status)
		}
		if rec.TotalTokens == 0 {
			t.Errorf("agent %s has no token usage persisted", rec.ID)
		}
		if rec.TotalCost == 0 {
			t.Errorf("agent %s has no cost persisted", rec.ID)
		}
	}
}

func TestCreateAgentLayersRolePrompt(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("done"))
	o := New(testConfig(t), q, nil, nil)
	ctx := context.Background()

	sess, err := o.CreateAgent(ctx, v1.AgentConfig{
		Name:         "builder-1",
		Role:         v1.RoleBuilder,
		SystemPrompt: "Prefer table-driven tests.",
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	prompt := sess.Config().SystemPrompt
	if !strings.Contains(prompt, "Additional Instructions:\nPrefer table-driven tests.") {
		t.Errorf("caller prompt not layered onto role base:\n%s", prompt)
	}
	if !strings.Contains(prompt, "BUILDER") {
		t.Errorf("role base prompt missing:\n%s", prompt)
	}

	custom, err := o.CreateAgent(ctx, v1.AgentConfig{
		Name:         "custom-1",
		Role:         v1.RoleCustom,
		SystemPrompt: "You translate error messages.",
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if got := custom.Config().SystemPrompt; got != "You translate error messages." {
		t.Errorf("custom agent prompt rewritten: %q", got)
	}
}

func TestStopDeletesAllAgents(t *testing.T) {
	q := claude.NewScriptedQuerier(okScript("done"))
	o := New(testConfig(t), q, nil, nil)
	ctx := context.Background()

	o.CreateAgent(ctx, v1.AgentConfig{Name: "a"})
	o.CreateAgent(ctx, v1.AgentConfig{Name: "b"})
	o.StartMonitor(ctx)
	o.Stop(ctx)

	if got := len(o.ListAgents(registry.ListFilter{})); got != 0 {
		t.Errorf("%d agents left after Stop", got)
	}
}
