// Package httpapi exposes the orchestrator over a REST and WebSocket API.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/orchestrator"
	"github.com/jeffjacobsen/orchestrator/internal/streaming"
)

// SetupRoutes configures the orchestrator API routes.
func SetupRoutes(router *gin.Engine, orc *orchestrator.Orchestrator, hub *streaming.Hub, log *logger.Logger) {
	handler := NewHandler(orc, log)

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if hub != nil {
		wsHandler := streaming.NewWSHandler(hub, log)
		router.GET("/ws", wsHandler.Stream)
	}

	api := router.Group("/api/v1")

	// Workflow tasks
	api.POST("/tasks/execute", handler.ExecuteTask)
	api.GET("/tasks", handler.ListTasks)
	api.GET("/tasks/:taskId", handler.GetTask)

	// Fleet
	api.GET("/status", handler.GetStatus)
	agents := api.Group("/agents")
	{
		agents.POST("", handler.CreateAgent)
		agents.GET("", handler.ListAgents)
		agents.POST("/cleanup", handler.CleanupAgents)
		agents.GET("/:agentId", handler.GetAgent)
		agents.DELETE("/:agentId", handler.DeleteAgent)
		agents.POST("/:agentId/message", handler.SendMessage)
	}
}
