package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	agent := &AgentRecord{
		ID:          "a1",
		Name:        "builder-1",
		Role:        v1.RoleBuilder,
		Status:      v1.StatusRunning,
		TaskID:      "t1",
		TotalCost:   0.05,
		TotalTokens: 1200,
	}
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	got, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "builder-1" || got.Status != v1.StatusRunning || got.TotalTokens != 1200 {
		t.Errorf("agent = %+v", got)
	}

	// save again is an upsert
	agent.Status = v1.StatusCompleted
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent upsert: %v", err)
	}
	got, _ = store.GetAgent(ctx, "a1")
	if got.Status != v1.StatusCompleted {
		t.Errorf("status after upsert = %s", got.Status)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil || len(agents) != 1 {
		t.Errorf("ListAgents = %v, %v", agents, err)
	}

	success := true
	task := &TaskRecord{
		ID:          "t1",
		Description: "fix the pager",
		Status:      v1.TaskCompleted,
		Steps:       2,
		Success:     &success,
		CostUSD:     0.12,
		TotalTokens: 4000,
		Metadata:    map[string]any{"task_type": "implementation"},
	}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	gotTask, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if gotTask.Status != v1.TaskCompleted || gotTask.Success == nil || !*gotTask.Success {
		t.Errorf("task = %+v", gotTask)
	}
	if gotTask.Metadata["task_type"] != "implementation" {
		t.Errorf("metadata = %v", gotTask.Metadata)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil || len(tasks) != 1 {
		t.Errorf("ListTasks = %v, %v", tasks, err)
	}

	if err := store.DeleteAgent(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := store.GetAgent(ctx, "a1"); err == nil {
		t.Error("deleted agent still resolvable")
	}
	if err := store.DeleteAgent(ctx, "a1"); err == nil {
		t.Error("double delete should error")
	}
	if _, err := store.GetTask(ctx, "missing"); err == nil {
		t.Error("missing task should error")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestAdapterMirrorsLifecycleEvents(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	store := NewMemoryStore()
	adapter := NewAdapter(store, nil)
	if err := adapter.Start(eventBus); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer adapter.Stop()

	ctx := context.Background()
	publish := func(eventType string, data map[string]interface{}) {
		if err := eventBus.Publish(ctx, eventType, bus.NewEvent(eventType, "test", data)); err != nil {
			t.Fatalf("Publish %s: %v", eventType, err)
		}
	}

	publish(events.AgentCreated, map[string]interface{}{
		"agent_id": "a1", "name": "builder-1", "role": "builder",
		"status": "created", "task_id": "t1",
	})
	publish(events.AgentStatusChanged, map[string]interface{}{
		"agent_id": "a1", "name": "builder-1", "role": "builder",
		"status": "running", "task_id": "t1",
		"total_cost_usd": 0.02, "total_tokens": int64(300),
	})

	record, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("agent not mirrored: %v", err)
	}
	if record.Status != v1.StatusRunning || record.TotalTokens != 300 {
		t.Errorf("record = %+v", record)
	}

	publish(events.TaskCompleted, map[string]interface{}{
		"task_id": "t1", "description": "fix it", "status": "completed",
		"steps": 2, "success": true, "cost_usd": 0.1, "total_tokens": int64(500),
	})
	task, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("task not mirrored: %v", err)
	}
	if task.Success == nil || !*task.Success || task.Steps != 2 {
		t.Errorf("task = %+v", task)
	}

	// deletion upserts the final snapshot so the record survives for
	// cost reports
	publish(events.AgentDeleted, map[string]interface{}{
		"agent_id": "a1", "name": "builder-1", "role": "builder",
		"status": "completed", "task_id": "t1",
		"total_cost_usd": 0.05, "total_tokens": int64(900),
	})
	record, err = store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("deleted agent's record should remain in store: %v", err)
	}
	if record.Status != v1.StatusCompleted || record.TotalTokens != 900 {
		t.Errorf("final snapshot = %+v", record)
	}
}
