package v1

import (
	"fmt"
	"time"
)

// TaskStatus tracks a workflow task through its lifetime.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ExecutionMode selects how a workflow's subtasks run.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// TaskResult is the outcome of a single agent execution, or of a whole
// workflow once aggregated.
type TaskResult struct {
	AgentID         string       `json:"agent_id"`
	TaskDescription string       `json:"task_description"`
	Success         bool         `json:"success"`
	Output          string       `json:"output"`
	Error           string       `json:"error,omitempty"`
	Metrics         AgentMetrics `json:"metrics"`
	Artifacts       []string     `json:"artifacts,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Subtask is one unit of work within a plan, assigned to a single role.
type Subtask struct {
	Role            AgentRole     `json:"role"`
	Description     string        `json:"description"`
	Context         string        `json:"context,omitempty"`
	Constraints     []string      `json:"constraints,omitempty"`
	ExecutionMode   ExecutionMode `json:"execution_mode,omitempty"`
	DependsOn       []int         `json:"depends_on,omitempty"`
	EstimatedTokens int           `json:"estimated_tokens,omitempty"`
}

// Plan is an ordered set of subtasks produced by the planner for one task.
type Plan struct {
	TaskID         string         `json:"task_id"`
	Description    string         `json:"description"`
	Subtasks       []Subtask      `json:"subtasks"`
	AssignedAgents []string       `json:"assigned_agents,omitempty"`
	Status         TaskStatus     `json:"status"`
	CurrentStep    int            `json:"current_step"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         *TaskResult    `json:"result,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Validate checks structural invariants: at least one subtask, and every
// DependsOn entry referencing an earlier subtask. Backward-only references
// make dependency cycles impossible by construction.
func (p *Plan) Validate() error {
	if len(p.Subtasks) == 0 {
		return fmt.Errorf("plan %s has no subtasks", p.TaskID)
	}
	for i, st := range p.Subtasks {
		if st.Description == "" {
			return fmt.Errorf("subtask %d has an empty description", i)
		}
		for _, dep := range st.DependsOn {
			if dep < 0 || dep >= len(p.Subtasks) {
				return fmt.Errorf("subtask %d depends on out-of-range index %d", i, dep)
			}
			if dep >= i {
				return fmt.Errorf("subtask %d depends on later subtask %d", i, dep)
			}
		}
	}
	return nil
}

// MarkCompleted stamps the plan as done with the given aggregate result.
func (p *Plan) MarkCompleted(result *TaskResult) {
	now := time.Now().UTC()
	p.CompletedAt = &now
	p.Result = result
	if result != nil && !result.Success {
		p.Status = TaskFailed
		return
	}
	p.Status = TaskCompleted
}
