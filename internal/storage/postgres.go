package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// PostgresStore persists records in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection, and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		task_id TEXT DEFAULT '',
		total_cost_usd DOUBLE PRECISION DEFAULT 0,
		total_tokens BIGINT DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		steps INTEGER DEFAULT 0,
		success BOOLEAN,
		cost_usd DOUBLE PRECISION DEFAULT 0,
		total_tokens BIGINT DEFAULT 0,
		metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_task_id ON agents(task_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, record *AgentRecord) error {
	now := time.Now().UTC()
	created := record.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, role, status, task_id, total_cost_usd, total_tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			task_id = EXCLUDED.task_id,
			total_cost_usd = EXCLUDED.total_cost_usd,
			total_tokens = EXCLUDED.total_tokens,
			updated_at = EXCLUDED.updated_at
	`, record.ID, record.Name, string(record.Role), string(record.Status), record.TaskID,
		record.TotalCost, record.TotalTokens, created, now)
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	record := &AgentRecord{}
	var role, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, role, status, task_id, total_cost_usd, total_tokens, created_at, updated_at
		FROM agents WHERE id = $1
	`, id).Scan(&record.ID, &record.Name, &role, &status, &record.TaskID,
		&record.TotalCost, &record.TotalTokens, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record.Role = v1.AgentRole(role)
	record.Status = v1.AgentStatus(status)
	return record, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, role, status, task_id, total_cost_usd, total_tokens, created_at, updated_at
		FROM agents ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		record := &AgentRecord{}
		var role, status string
		if err := rows.Scan(&record.ID, &record.Name, &role, &status, &record.TaskID,
			&record.TotalCost, &record.TotalTokens, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Role = v1.AgentRole(role)
		record.Status = v1.AgentStatus(status)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, record *TaskRecord) error {
	now := time.Now().UTC()
	created := record.CreatedAt
	if created.IsZero() {
		created = now
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, description, status, steps, success, cost_usd, total_tokens, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			success = EXCLUDED.success,
			cost_usd = EXCLUDED.cost_usd,
			total_tokens = EXCLUDED.total_tokens,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, record.ID, record.Description, string(record.Status), record.Steps, record.Success,
		record.CostUSD, record.TotalTokens, string(metadata), created, now)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	record := &TaskRecord{}
	var status string
	var metadata []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, description, status, steps, success, cost_usd, total_tokens, metadata, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id).Scan(&record.ID, &record.Description, &status, &record.Steps, &record.Success,
		&record.CostUSD, &record.TotalTokens, &metadata, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record.Status = v1.TaskStatus(status)
	_ = json.Unmarshal(metadata, &record.Metadata)
	return record, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, description, status, steps, success, cost_usd, total_tokens, metadata, created_at, updated_at
		FROM tasks ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		record := &TaskRecord{}
		var status string
		var metadata []byte
		if err := rows.Scan(&record.ID, &record.Description, &status, &record.Steps, &record.Success,
			&record.CostUSD, &record.TotalTokens, &metadata, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Status = v1.TaskStatus(status)
		_ = json.Unmarshal(metadata, &record.Metadata)
		out = append(out, record)
	}
	return out, rows.Err()
}
