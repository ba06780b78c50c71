// Package v1 defines the wire-level types shared between the orchestrator
// core, the HTTP API, the CLI, and the persistence layer.
package v1

import (
	"fmt"
	"strings"
	"time"
)

// AgentRole identifies the specialization of an agent within a workflow.
type AgentRole string

const (
	RoleAnalyst      AgentRole = "analyst"
	RolePlanner      AgentRole = "planner"
	RoleBuilder      AgentRole = "builder"
	RoleTester       AgentRole = "tester"
	RoleReviewer     AgentRole = "reviewer"
	RoleDocumenter   AgentRole = "documenter"
	RoleOrchestrator AgentRole = "orchestrator"
	RoleCustom       AgentRole = "custom"
)

// ParseRole normalizes a role string to an AgentRole. Matching is
// case-insensitive so planner output like "BUILDER" parses cleanly.
func ParseRole(s string) (AgentRole, error) {
	role := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	switch role {
	case RoleAnalyst, RolePlanner, RoleBuilder, RoleTester,
		RoleReviewer, RoleDocumenter, RoleOrchestrator, RoleCustom:
		return role, nil
	}
	return "", fmt.Errorf("unknown agent role %q", s)
}

// AgentStatus tracks where an agent is in its lifecycle.
type AgentStatus string

const (
	StatusCreated   AgentStatus = "created"
	StatusRunning   AgentStatus = "running"
	StatusWaiting   AgentStatus = "waiting"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
	StatusDeleted   AgentStatus = "deleted"
)

// CanTransitionTo reports whether moving from s to target is a legal
// lifecycle transition. Deletion is reachable from every state; a
// completed agent can be resumed back into running for follow-up turns;
// failed is otherwise terminal.
func (s AgentStatus) CanTransitionTo(target AgentStatus) bool {
	if target == StatusDeleted {
		return true
	}
	switch s {
	case StatusCreated:
		return target == StatusRunning
	case StatusRunning:
		return target == StatusWaiting || target == StatusCompleted || target == StatusFailed
	case StatusWaiting:
		return target == StatusRunning
	case StatusCompleted:
		return target == StatusRunning
	}
	return false
}

// IsTerminal reports whether the agent has finished its work.
func (s AgentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// ToolCall records a single tool invocation made by an agent.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AgentMetrics accumulates token usage, cost, and file activity for one
// agent. TotalTokens is always the sum of the four token components.
type AgentMetrics struct {
	AgentID             string    `json:"agent_id"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	TotalTokens         int64     `json:"total_tokens"`
	TotalCostUSD        float64   `json:"total_cost_usd"`
	ToolCallCount       int       `json:"tool_call_count"`
	MessagesSent        int       `json:"messages_sent"`
	FilesRead           []string  `json:"files_read,omitempty"`
	FilesWritten        []string  `json:"files_written,omitempty"`
	ExecutionSeconds    float64   `json:"execution_seconds"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AddTokens adds a usage sample and recomputes the total.
func (m *AgentMetrics) AddTokens(input, output, cacheCreation, cacheRead int64) {
	m.InputTokens += input
	m.OutputTokens += output
	m.CacheCreationTokens += cacheCreation
	m.CacheReadTokens += cacheRead
	m.recomputeTotal()
	m.UpdatedAt = time.Now().UTC()
}

// RecordFileRead appends path to FilesRead unless already present.
func (m *AgentMetrics) RecordFileRead(path string) {
	m.FilesRead = appendUnique(m.FilesRead, path)
}

// RecordFileWritten appends path to FilesWritten unless already present.
func (m *AgentMetrics) RecordFileWritten(path string) {
	m.FilesWritten = appendUnique(m.FilesWritten, path)
}

// Merge folds other into m component-wise. File lists keep first-seen
// order with duplicates removed.
func (m *AgentMetrics) Merge(other AgentMetrics) {
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.CacheCreationTokens += other.CacheCreationTokens
	m.CacheReadTokens += other.CacheReadTokens
	m.TotalCostUSD += other.TotalCostUSD
	m.ToolCallCount += other.ToolCallCount
	m.MessagesSent += other.MessagesSent
	m.ExecutionSeconds += other.ExecutionSeconds
	for _, f := range other.FilesRead {
		m.FilesRead = appendUnique(m.FilesRead, f)
	}
	for _, f := range other.FilesWritten {
		m.FilesWritten = appendUnique(m.FilesWritten, f)
	}
	m.recomputeTotal()
	m.UpdatedAt = time.Now().UTC()
}

func (m *AgentMetrics) recomputeTotal() {
	m.TotalTokens = m.InputTokens + m.OutputTokens + m.CacheCreationTokens + m.CacheReadTokens
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

const (
	// DefaultModel is used when an AgentConfig does not name one.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultPermissionMode lets workflow agents use tools without
	// interactive approval.
	DefaultPermissionMode = "bypassPermissions"
)

// AgentConfig is the configuration an agent is created with.
type AgentConfig struct {
	Name           string    `json:"name"`
	Role           AgentRole `json:"role"`
	Model          string    `json:"model,omitempty"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Temperature    float64   `json:"temperature,omitempty"`
	WorkingDir     string    `json:"working_dir,omitempty"`
	AllowedTools   []string  `json:"allowed_tools,omitempty"`
	PermissionMode string    `json:"permission_mode,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
}

// ApplyDefaults fills in model and permission mode when unset.
func (c *AgentConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.PermissionMode == "" {
		c.PermissionMode = DefaultPermissionMode
	}
}

// FleetSummary is a point-in-time view of all registered agents.
type FleetSummary struct {
	TotalAgents  int                 `json:"total_agents"`
	ActiveAgents int                 `json:"active_agents"`
	ByStatus     map[AgentStatus]int `json:"by_status"`
	ByRole       map[AgentRole]int   `json:"by_role"`
	TotalCost    string              `json:"total_cost"`
	TotalTokens  int64               `json:"total_tokens"`
}
