package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
)

// MemoryStore is the default, process-local store.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*AgentRecord
	tasks  map[string]*TaskRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*AgentRecord),
		tasks:  make(map[string]*TaskRecord),
	}
}

func (s *MemoryStore) SaveAgent(ctx context.Context, record *AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.UpdatedAt = time.Now().UTC()
	if existing, ok := s.agents[record.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = copied.UpdatedAt
	}
	s.agents[record.ID] = &copied
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentRecord, 0, len(s.agents))
	for _, record := range s.agents {
		copied := *record
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) SaveTask(ctx context.Context, record *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.UpdatedAt = time.Now().UTC()
	if existing, ok := s.tasks[record.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = copied.UpdatedAt
	}
	s.tasks[record.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTaskNotFound, id)
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TaskRecord, 0, len(s.tasks))
	for _, record := range s.tasks {
		copied := *record
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
