package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// Adapter subscribes to agent and task lifecycle events and mirrors them
// into a Store. Persistence is best effort: a failed write is logged, never
// propagated back to the publisher.
type Adapter struct {
	store  Store
	logger *logger.Logger
	subs   []bus.Subscription
}

// NewAdapter wires a store to the bus. Call Start to begin mirroring.
func NewAdapter(store Store, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Default()
	}
	return &Adapter{
		store:  store,
		logger: log.WithFields(zap.String("component", "storage-adapter")),
	}
}

// Start subscribes to the agent and task event families.
func (a *Adapter) Start(eventBus bus.EventBus) error {
	agentSub, err := eventBus.Subscribe(events.AllAgentEvents, a.handleAgentEvent)
	if err != nil {
		return err
	}
	a.subs = append(a.subs, agentSub)

	taskSub, err := eventBus.Subscribe(events.AllTaskEvents, a.handleTaskEvent)
	if err != nil {
		return err
	}
	a.subs = append(a.subs, taskSub)
	return nil
}

// Stop unsubscribes from the bus. The store itself stays open.
func (a *Adapter) Stop() {
	for _, sub := range a.subs {
		_ = sub.Unsubscribe()
	}
	a.subs = nil
}

func (a *Adapter) handleAgentEvent(ctx context.Context, event *bus.Event) error {
	agentID, _ := event.Data["agent_id"].(string)
	if agentID == "" {
		return nil
	}

	switch event.Type {
	// Deletion upserts the final snapshot rather than removing the row:
	// cost reporting needs the record to outlive the in-memory session.
	case events.AgentCreated, events.AgentStarted, events.AgentStatusChanged,
		events.AgentCompleted, events.AgentFailed, events.AgentDeleted:
		record := &AgentRecord{
			ID:     agentID,
			TaskID: stringField(event, "task_id"),
			Name:   stringField(event, "name"),
			Role:   v1.AgentRole(stringField(event, "role")),
			Status: v1.AgentStatus(stringField(event, "status")),
		}
		record.TotalCost = floatField(event, "total_cost_usd")
		record.TotalTokens = intField(event, "total_tokens")
		if err := a.store.SaveAgent(ctx, record); err != nil {
			a.logger.Warn("failed to persist agent record",
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
	}
	return nil
}

func (a *Adapter) handleTaskEvent(ctx context.Context, event *bus.Event) error {
	taskID := stringField(event, "task_id")
	if taskID == "" {
		return nil
	}

	record := &TaskRecord{
		ID:          taskID,
		Description: stringField(event, "description"),
		Status:      v1.TaskStatus(stringField(event, "status")),
		Steps:       int(intField(event, "steps")),
		CostUSD:     floatField(event, "cost_usd"),
		TotalTokens: intField(event, "total_tokens"),
	}
	if success, ok := event.Data["success"].(bool); ok {
		record.Success = &success
	}
	if err := a.store.SaveTask(ctx, record); err != nil {
		a.logger.Warn("failed to persist task record",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
	return nil
}

func stringField(event *bus.Event, key string) string {
	s, _ := event.Data[key].(string)
	return s
}

// intField tolerates the numeric types a JSON round trip can produce.
func intField(event *bus.Event, key string) int64 {
	switch v := event.Data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func floatField(event *bus.Event, key string) float64 {
	switch v := event.Data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
