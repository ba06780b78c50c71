package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

// WSHandler upgrades HTTP requests to streaming WebSocket connections.
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Default()
	}
	return &WSHandler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// Stream handles WebSocket connections for live fleet and task updates.
// WS /ws
//
// An optional ?task_id= query param scopes the client to a single task;
// otherwise the client receives every frame.
func (h *WSHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	if taskID := c.Query("task_id"); taskID != "" {
		client.Subscribe(taskID)
	}

	h.logger.Info("WebSocket connection established",
		zap.String("client_id", clientID),
	)

	go client.WritePump()
	go client.ReadPump()
}
