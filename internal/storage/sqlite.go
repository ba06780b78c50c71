package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// SQLiteStore persists records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		task_id TEXT DEFAULT '',
		total_cost_usd REAL DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		steps INTEGER DEFAULT 0,
		success INTEGER,
		cost_usd REAL DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		metadata TEXT DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_task_id ON agents(task_id);
	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, record *AgentRecord) error {
	now := time.Now().UTC()
	created := record.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, role, status, task_id, total_cost_usd, total_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			status = excluded.status,
			task_id = excluded.task_id,
			total_cost_usd = excluded.total_cost_usd,
			total_tokens = excluded.total_tokens,
			updated_at = excluded.updated_at
	`, record.ID, record.Name, string(record.Role), string(record.Status), record.TaskID,
		record.TotalCost, record.TotalTokens, created, now)
	return err
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	record := &AgentRecord{}
	var role, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, status, task_id, total_cost_usd, total_tokens, created_at, updated_at
		FROM agents WHERE id = ?
	`, id).Scan(&record.ID, &record.Name, &role, &status, &record.TaskID,
		&record.TotalCost, &record.TotalTokens, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record.Role = v1.AgentRole(role)
	record.Status = v1.AgentStatus(status)
	return record, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) SaveTask(ctx context.Context, record *TaskRecord) error {
	now := time.Now().UTC()
	created := record.CreatedAt
	if created.IsZero() {
		created = now
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	var success sql.NullBool
	if record.Success != nil {
		success = sql.NullBool{Bool: *record.Success, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, status, steps, success, cost_usd, total_tokens, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			status = excluded.status,
			steps = excluded.steps,
			success = excluded.success,
			cost_usd = excluded.cost_usd,
			total_tokens = excluded.total_tokens,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, record.ID, record.Description, string(record.Status), record.Steps, success,
		record.CostUSD, record.TotalTokens, string(metadata), created, now)
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	record := &TaskRecord{}
	var status, metadata string
	var success sql.NullBool
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, status, steps, success, cost_usd, total_tokens, metadata, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&record.ID, &record.Description, &status, &record.Steps, &success,
		&record.CostUSD, &record.TotalTokens, &metadata, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record.Status = v1.TaskStatus(status)
	if success.Valid {
		record.Success = &success.Bool
	}
	_ = json.Unmarshal([]byte(metadata), &record.Metadata)
	return record, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var status, metadata string
		var success sql.NullBool
		if err := rows.Scan(&record.ID, &record.Description, &status, &record.Steps, &success,
			&record.CostUSD, &record.TotalTokens, &metadata, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Status = v1.TaskStatus(status)
		if success.Valid {
			record.Success = &success.Bool
		}
		_ = json.Unmarshal([]byte(metadata), &record.Metadata)
		out = append(out, record)
	}
	return out, rows.Err()
}
