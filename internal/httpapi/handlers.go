package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	"github.com/jeffjacobsen/orchestrator/internal/common/errors"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/orchestrator"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// Handler contains the HTTP handlers for the orchestrator API.
type Handler struct {
	orc    *orchestrator.Orchestrator
	logger *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(orc *orchestrator.Orchestrator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		orc:    orc,
		logger: log.WithFields(zap.String("component", "http-api")),
	}
}

// ExecuteTask plans and runs a workflow, blocking until it finishes.
// POST /api/v1/tasks/execute
func (h *Handler) ExecuteTask(c *gin.Context) {
	var req ExecuteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	var (
		result *v1.TaskResult
		err    error
	)
	if len(req.Subtasks) > 0 {
		result, err = h.orc.ExecuteCustom(c.Request.Context(), req.Description, req.Subtasks)
	} else {
		result, err = h.orc.Execute(c.Request.Context(), orchestrator.ExecuteRequest{
			Description:  req.Description,
			TaskType:     req.TaskType,
			Mode:         req.Mode,
			UseAIPlanner: req.UseAIPlanner,
		})
	}
	if err != nil {
		h.logger.Error("task execution failed", zap.Error(err))
		appErr := errors.Wrap(err, "failed to execute task")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListTasks returns all tracked workflow plans, newest first.
// GET /api/v1/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	tasks := h.orc.ListTasks()
	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// GetTask returns one workflow plan.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	plan, err := h.orc.GetTask(c.Param("taskId"))
	if err != nil {
		appErr := errors.NotFound("task", c.Param("taskId"))
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// GetStatus returns fleet, task and usage totals.
// GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.orc.Status())
}

// CreateAgent provisions a standalone agent.
// POST /api/v1/agents
func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	cfg := v1.AgentConfig{
		Name:         req.Name,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		WorkingDir:   req.WorkingDir,
		AllowedTools: req.AllowedTools,
		SessionID:    req.SessionID,
		TaskID:       req.TaskID,
	}
	if req.Role != "" {
		role, err := v1.ParseRole(req.Role)
		if err != nil {
			appErr := errors.ValidationError("role", err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		cfg.Role = role
	}

	session, err := h.orc.CreateAgent(c.Request.Context(), cfg)
	if err != nil {
		appErr := errors.Wrap(err, "failed to create agent")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusCreated, toAgentResponse(session))
}

// ListAgents returns agents, optionally filtered by status, role or task.
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	filter := registry.ListFilter{
		Status: v1.AgentStatus(c.Query("status")),
		TaskID: c.Query("task_id"),
	}
	if roleStr := c.Query("role"); roleStr != "" {
		role, err := v1.ParseRole(roleStr)
		if err != nil {
			appErr := errors.ValidationError("role", err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		filter.Role = role
	}

	sessions := h.orc.ListAgents(filter)
	agents := make([]AgentResponse, 0, len(sessions))
	for _, s := range sessions {
		agents = append(agents, toAgentResponse(s))
	}
	c.JSON(http.StatusOK, AgentListResponse{Agents: agents, Total: len(agents)})
}

// GetAgent returns full details for one agent, including metrics, tool
// calls and context window usage.
// GET /api/v1/agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	details, err := h.orc.AgentDetails(c.Param("agentId"))
	if err != nil {
		appErr := errors.NotFound("agent", c.Param("agentId"))
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, details)
}

// DeleteAgent tears down an agent session.
// DELETE /api/v1/agents/:agentId
func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.orc.DeleteAgent(c.Request.Context(), c.Param("agentId")); err != nil {
		appErr := errors.NotFound("agent", c.Param("agentId"))
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SendMessage sends a follow-up prompt to a waiting agent.
// POST /api/v1/agents/:agentId/message
func (h *Handler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	agentID := c.Param("agentId")
	response, err := h.orc.SendToAgent(c.Request.Context(), agentID, req.Message)
	if err != nil {
		if errors.IsNotFound(err) {
			appErr := errors.NotFound("agent", agentID)
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		appErr := errors.Wrap(err, "failed to send message")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{AgentID: agentID, Response: response})
}

// CleanupAgents removes completed and failed agents.
// POST /api/v1/agents/cleanup
func (h *Handler) CleanupAgents(c *gin.Context) {
	removed := h.orc.CleanupCompleted(c.Request.Context())
	c.JSON(http.StatusOK, CleanupResponse{Removed: removed})
}

// Health is a liveness probe.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
