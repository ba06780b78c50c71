package streaming

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
)

// Bridge forwards bus events to WebSocket clients as frames. Frames are
// keyed by task id so clients can scope their subscription to one
// workflow; unscoped clients still see everything.
type Bridge struct {
	hub    *Hub
	logger *logger.Logger
	subs   []bus.Subscription
}

// NewBridge builds a bridge for hub.
func NewBridge(hub *Hub, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Default()
	}
	return &Bridge{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-bridge")),
	}
}

// Start subscribes the bridge to agent and task events.
func (b *Bridge) Start(eventBus bus.EventBus) error {
	agentSub, err := eventBus.Subscribe(events.AllAgentEvents, b.handleAgentEvent)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, agentSub)

	taskSub, err := eventBus.Subscribe(events.AllTaskEvents, b.handleTaskEvent)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, taskSub)

	b.logger.Info("websocket bridge started")
	return nil
}

// Stop drops the bus subscriptions.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	b.subs = nil
}

func (b *Bridge) handleAgentEvent(ctx context.Context, event *bus.Event) error {
	topic, _ := event.Data["task_id"].(string)

	frameType := FrameAgentUpdate
	if event.Type == events.AgentDeleted {
		frameType = FrameAgentDeleted
	}

	data := make(map[string]any, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	data["event"] = event.Type

	b.hub.Broadcast(topic, Frame{Type: frameType, Data: data})
	return nil
}

func (b *Bridge) handleTaskEvent(ctx context.Context, event *bus.Event) error {
	topic, _ := event.Data["task_id"].(string)

	frameType := FrameTaskUpdate
	if event.Type == events.TaskDeleted {
		frameType = FrameTaskDeleted
	}

	data := make(map[string]any, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	data["event"] = event.Type

	b.hub.Broadcast(topic, Frame{Type: frameType, Data: data})
	return nil
}
