// Package events defines the event subjects published on the orchestrator
// event bus.
package events

// Event types for agents
const (
	AgentCreated       = "agent.created"
	AgentStarted       = "agent.started"
	AgentStatusChanged = "agent.status_changed"
	AgentProgress      = "agent.progress"
	AgentCompleted     = "agent.completed"
	AgentFailed        = "agent.failed"
	AgentDeleted       = "agent.deleted"
)

// Event types for workflow tasks
const (
	TaskPlanned   = "task.planned"
	TaskUpdated   = "task.updated"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskDeleted   = "task.deleted"
)

// Wildcard subjects covering a whole event family.
const (
	AllAgentEvents = "agent.>"
	AllTaskEvents  = "task.>"
)

// BuildAgentProgressSubject creates a progress subject scoped to one agent.
func BuildAgentProgressSubject(agentID string) string {
	return AgentProgress + "." + agentID
}

// BuildAgentProgressWildcardSubject subscribes to progress from all agents.
func BuildAgentProgressWildcardSubject() string {
	return AgentProgress + ".*"
}
