// Package streaming pushes fleet and task updates to WebSocket clients in
// real time.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
)

// Frame types sent over the wire.
const (
	FrameAgentUpdate  = "agent_update"
	FrameAgentDeleted = "agent_deleted"
	FrameTaskUpdate   = "task_update"
	FrameTaskDeleted  = "task_deleted"
)

// Frame is one WebSocket message.
type Frame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type broadcastMessage struct {
	topic string
	data  []byte
}

// Hub fans frames out to connected clients. A client with no topic
// subscriptions receives everything; subscribing narrows it to the chosen
// agent or task ids.
type Hub struct {
	clients map[*Client]bool

	// clients by subscribed topic for scoped routing
	topicClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates an empty hub. Call Run to start it.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:      make(map[*Client]bool),
		topicClients: make(map[string]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *broadcastMessage, 256),
		logger:       log.WithFields(zap.String("component", "streaming-hub")),
	}
}

// Run processes hub events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("streaming hub started")
	defer h.logger.Info("streaming hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.topicClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropClientLocked(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver routes one frame: topic subscribers plus every unscoped client.
func (h *Hub) deliver(msg *broadcastMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wantsTopic(msg.topic) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- msg.data:
		default:
			// send buffer full, drop the connection
			h.mu.Lock()
			h.dropClientLocked(client)
			h.mu.Unlock()
		}
	}
}

// dropClientLocked removes a client and its topic entries. Caller holds
// h.mu.
func (h *Hub) dropClientLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	client.mu.RLock()
	defer client.mu.RUnlock()
	for topic := range client.topics {
		if clients, ok := h.topicClients[topic]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topicClients, topic)
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a frame scoped to a topic (an agent or task id). An
// empty topic reaches only unscoped clients.
func (h *Hub) Broadcast(topic string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	h.broadcast <- &broadcastMessage{topic: topic, data: data}
}

func (h *Hub) subscribeClient(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topicClients[topic]; !ok {
		h.topicClients[topic] = make(map[*Client]bool)
	}
	h.topicClients[topic][client] = true
}

func (h *Hub) unsubscribeClient(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.topicClients[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topicClients, topic)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicSubscriberCount returns how many clients follow a topic.
func (h *Hub) TopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topicClients[topic])
}
