package httpapi

import (
	"time"

	"github.com/jeffjacobsen/orchestrator/internal/agent"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// ExecuteTaskRequest starts a workflow. When Subtasks is set the planner
// is skipped and the supplied workflow runs as-is.
type ExecuteTaskRequest struct {
	Description  string       `json:"description" binding:"required"`
	TaskType     string       `json:"task_type"`
	Mode         string       `json:"mode"` // auto, sequential, parallel
	UseAIPlanner bool         `json:"use_ai_planner"`
	Subtasks     []v1.Subtask `json:"subtasks,omitempty"`
}

// CreateAgentRequest provisions a standalone agent outside a workflow.
type CreateAgentRequest struct {
	Name         string   `json:"name" binding:"required"`
	Role         string   `json:"role"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	WorkingDir   string   `json:"working_dir"`
	AllowedTools []string `json:"allowed_tools"`
	SessionID    string   `json:"session_id"`
	TaskID       string   `json:"task_id"`
}

// MessageRequest sends a follow-up prompt to a waiting agent.
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// MessageResponse carries the agent's reply.
type MessageResponse struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// AgentResponse is the wire form of an agent session.
type AgentResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      v1.AgentRole   `json:"role"`
	Status    v1.AgentStatus `json:"status"`
	Model     string         `json:"model"`
	TaskID    string         `json:"task_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AgentListResponse wraps a list of agents.
type AgentListResponse struct {
	Agents []AgentResponse `json:"agents"`
	Total  int             `json:"total"`
}

// TaskListResponse wraps a list of workflow plans.
type TaskListResponse struct {
	Tasks []*v1.Plan `json:"tasks"`
	Total int        `json:"total"`
}

// CleanupResponse reports how many agents were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

func toAgentResponse(session *agent.Session) AgentResponse {
	cfg := session.Config()
	return AgentResponse{
		ID:        session.ID(),
		Name:      cfg.Name,
		Role:      cfg.Role,
		Status:    session.Status(),
		Model:     cfg.Model,
		TaskID:    cfg.TaskID,
		CreatedAt: session.CreatedAt(),
	}
}
