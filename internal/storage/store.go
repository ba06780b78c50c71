// Package storage persists agent and task records so fleet state survives
// restarts. Memory, SQLite, and Postgres backends share the Store
// interface; the bus adapter keeps a store current from lifecycle events.
package storage

import (
	"context"
	"time"

	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// AgentRecord is the persisted snapshot of one agent.
type AgentRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Role        v1.AgentRole   `json:"role"`
	Status      v1.AgentStatus `json:"status"`
	TaskID      string         `json:"task_id,omitempty"`
	TotalCost   float64        `json:"total_cost_usd"`
	TotalTokens int64          `json:"total_tokens"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TaskRecord is the persisted snapshot of one workflow task.
type TaskRecord struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      v1.TaskStatus  `json:"status"`
	Steps       int            `json:"steps"`
	Success     *bool          `json:"success,omitempty"`
	CostUSD     float64        `json:"cost_usd"`
	TotalTokens int64          `json:"total_tokens"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store defines the persistence operations. Save methods upsert.
type Store interface {
	SaveAgent(ctx context.Context, record *AgentRecord) error
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]*AgentRecord, error)
	DeleteAgent(ctx context.Context, id string) error

	SaveTask(ctx context.Context, record *TaskRecord) error
	GetTask(ctx context.Context, id string) (*TaskRecord, error)
	ListTasks(ctx context.Context) ([]*TaskRecord, error)

	Close() error
}

// Open builds the store the configuration selects.
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(context.Background(), cfg.DSN())
	default:
		return NewMemoryStore(), nil
	}
}
