// Package registry tracks the fleet of agent sessions: creation, lookup,
// status transitions, and cleanup, with lifecycle events published on the
// bus.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agent"
	"github.com/jeffjacobsen/orchestrator/internal/agent/prompts"
	"github.com/jeffjacobsen/orchestrator/internal/agentlog"
	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status v1.AgentStatus
	Role   v1.AgentRole
	TaskID string
}

// Registry owns all live agent sessions.
type Registry struct {
	client   claude.Querier
	eventBus bus.EventBus
	defaults config.AgentConfig
	logger   *logger.Logger

	mu     sync.RWMutex
	agents map[string]*agent.Session
}

// NewRegistry creates an empty registry. eventBus may be nil, in which case
// no lifecycle events are published.
func NewRegistry(client claude.Querier, eventBus bus.EventBus, defaults config.AgentConfig, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		client:   client,
		eventBus: eventBus,
		defaults: defaults,
		logger:   log.WithFields(zap.String("component", "agent-registry")),
		agents:   make(map[string]*agent.Session),
	}
}

// Create registers a new agent session from an explicit config.
func (r *Registry) Create(ctx context.Context, cfg v1.AgentConfig) (*agent.Session, error) {
	if cfg.Name == "" {
		return nil, apperrors.ValidationError("name", "agent name is required")
	}
	if cfg.Role == "" {
		cfg.Role = v1.RoleCustom
	}
	if cfg.Model == "" {
		cfg.Model = r.defaults.Model
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = r.defaults.WorkingDir
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = r.defaults.PermissionMode
	}

	id := uuid.New().String()
	sink := agentlog.NewSink(r.defaults.LogDir, cfg.TaskID, id, cfg.Name, r.defaults.EnableLogging, r.logger)
	sess := agent.NewSession(id, cfg, r.client, sink, r.progressFunc(), r.logger)

	r.mu.Lock()
	r.agents[id] = sess
	r.mu.Unlock()

	r.logger.Info("agent created",
		zap.String("agent_id", id),
		zap.String("name", cfg.Name),
		zap.String("role", string(cfg.Role)))
	r.publishEvent(ctx, events.AgentCreated, sess)

	return sess, nil
}

// SpecializedSpec describes a workflow-step agent: its role, the step's
// scope, and prompt-shaping hints from the plan.
type SpecializedSpec struct {
	Role        v1.AgentRole
	Name        string
	TaskContext string
	Constraints []string
	TaskID      string
	// Complexity selects the analyst prompt variant when known.
	Complexity string
}

// CreateSpecialized builds an agent for a workflow role, composing the role
// prompt with task context and step constraints. Analyst agents get a
// prompt tuned to the plan's complexity, or to the task context when
// complexity was not assessed.
func (r *Registry) CreateSpecialized(ctx context.Context, spec SpecializedSpec) (*agent.Session, error) {
	systemPrompt := prompts.ForRole(spec.Role)
	if spec.Role == v1.RoleAnalyst {
		switch {
		case spec.Complexity != "":
			systemPrompt = prompts.AnalystForComplexity(spec.Complexity)
		case spec.TaskContext != "":
			systemPrompt = prompts.AnalystWithTaskContext(spec.TaskContext)
		}
	}
	if spec.TaskContext != "" {
		systemPrompt += "\n\nTask Context:\n" + spec.TaskContext
	}
	if len(spec.Constraints) > 0 {
		systemPrompt += "\n\nConstraints:\n- " + strings.Join(spec.Constraints, "\n- ")
	}
	name := spec.Name
	if name == "" {
		name = string(spec.Role)
	}
	return r.Create(ctx, v1.AgentConfig{
		Name:         name,
		Role:         spec.Role,
		SystemPrompt: systemPrompt,
		TaskID:       spec.TaskID,
	})
}

// Get returns the session for an agent id.
func (r *Registry) Get(agentID string) (*agent.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, agentID)
	}
	return sess, nil
}

// List returns sessions matching the filter, ordered by creation time.
func (r *Registry) List(filter ListFilter) []*agent.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*agent.Session, 0, len(r.agents))
	for _, sess := range r.agents {
		if filter.Status != "" && sess.Status() != filter.Status {
			continue
		}
		cfg := sess.Config()
		if filter.Role != "" && cfg.Role != filter.Role {
			continue
		}
		if filter.TaskID != "" && cfg.TaskID != filter.TaskID {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Active returns sessions that are running or waiting.
func (r *Registry) Active() []*agent.Session {
	all := r.List(ListFilter{})
	out := make([]*agent.Session, 0, len(all))
	for _, sess := range all {
		switch sess.Status() {
		case v1.StatusRunning, v1.StatusWaiting:
			out = append(out, sess)
		}
	}
	return out
}

// UpdateStatus performs a validated lifecycle transition and publishes the
// change.
func (r *Registry) UpdateStatus(ctx context.Context, agentID string, status v1.AgentStatus) error {
	sess, err := r.Get(agentID)
	if err != nil {
		return err
	}
	if err := sess.SetStatus(status); err != nil {
		return err
	}
	r.publishEvent(ctx, events.AgentStatusChanged, sess)
	return nil
}

// Delete cleans up and removes one agent.
func (r *Registry) Delete(ctx context.Context, agentID string) error {
	r.mu.Lock()
	sess, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, agentID)
	}

	sess.Cleanup()
	r.logger.Info("agent deleted", zap.String("agent_id", agentID))
	r.publishEvent(ctx, events.AgentDeleted, sess)
	return nil
}

// DeleteAll removes every agent and returns how many were deleted.
func (r *Registry) DeleteAll(ctx context.Context) int {
	r.mu.Lock()
	doomed := make([]*agent.Session, 0, len(r.agents))
	for _, sess := range r.agents {
		doomed = append(doomed, sess)
	}
	r.agents = make(map[string]*agent.Session)
	r.mu.Unlock()

	for _, sess := range doomed {
		sess.Cleanup()
		r.publishEvent(ctx, events.AgentDeleted, sess)
	}
	if len(doomed) > 0 {
		r.logger.Info("all agents deleted", zap.Int("count", len(doomed)))
	}
	return len(doomed)
}

// CleanupCompleted removes agents that have reached a terminal status.
func (r *Registry) CleanupCompleted(ctx context.Context) int {
	r.mu.Lock()
	doomed := make([]*agent.Session, 0)
	for id, sess := range r.agents {
		if sess.Status().IsTerminal() {
			doomed = append(doomed, sess)
			delete(r.agents, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range doomed {
		sess.Cleanup()
		r.publishEvent(ctx, events.AgentDeleted, sess)
	}
	return len(doomed)
}

// FleetSummary aggregates status, role, cost, and token counts across the
// fleet.
func (r *Registry) FleetSummary() v1.FleetSummary {
	sessions := r.List(ListFilter{})

	summary := v1.FleetSummary{
		TotalAgents: len(sessions),
		ByStatus:    make(map[v1.AgentStatus]int),
		ByRole:      make(map[v1.AgentRole]int),
	}
	var cost float64
	for _, sess := range sessions {
		status := sess.Status()
		summary.ByStatus[status]++
		summary.ByRole[sess.Config().Role]++
		if status == v1.StatusRunning || status == v1.StatusWaiting {
			summary.ActiveAgents++
		}
		m := sess.Metrics()
		cost += m.TotalCostUSD
		summary.TotalTokens += m.TotalTokens
	}
	summary.TotalCost = fmt.Sprintf("$%.4f", cost)
	return summary
}

// TotalCost sums cost across all agents.
func (r *Registry) TotalCost() float64 {
	var cost float64
	for _, sess := range r.List(ListFilter{}) {
		cost += sess.Metrics().TotalCostUSD
	}
	return cost
}

// TotalTokens sums token usage across all agents.
func (r *Registry) TotalTokens() int64 {
	var tokens int64
	for _, sess := range r.List(ListFilter{}) {
		tokens += sess.Metrics().TotalTokens
	}
	return tokens
}

// progressFunc bridges session progress into scoped bus subjects. Start,
// completion, and failure additionally publish lifecycle events so
// subscribers (and the persistence adapter) see terminal states with their
// final metrics.
func (r *Registry) progressFunc() agent.ProgressFunc {
	if r.eventBus == nil {
		return nil
	}
	return func(ctx context.Context, ev agent.ProgressEvent) {
		subject := events.BuildAgentProgressSubject(ev.AgentID)
		event := bus.NewEvent(events.AgentProgress, "agent-registry", map[string]interface{}{
			"agent_id":   ev.AgentID,
			"agent_name": ev.AgentName,
			"event":      ev.Type,
			"data":       ev.Data,
		})
		if err := r.eventBus.Publish(ctx, subject, event); err != nil {
			r.logger.Debug("failed to publish progress event",
				zap.String("agent_id", ev.AgentID),
				zap.Error(err))
		}

		var lifecycle string
		switch ev.Type {
		case agent.ProgressStarted:
			lifecycle = events.AgentStarted
		case agent.ProgressCompleted:
			lifecycle = events.AgentCompleted
		case agent.ProgressFailed:
			lifecycle = events.AgentFailed
		default:
			return
		}
		if sess, err := r.Get(ev.AgentID); err == nil {
			r.publishEvent(ctx, lifecycle, sess)
		}
	}
}

func (r *Registry) publishEvent(ctx context.Context, eventType string, sess *agent.Session) {
	if r.eventBus == nil {
		return
	}
	cfg := sess.Config()
	m := sess.Metrics()
	event := bus.NewEvent(eventType, "agent-registry", map[string]interface{}{
		"agent_id":       sess.ID(),
		"name":           cfg.Name,
		"role":           string(cfg.Role),
		"status":         string(sess.Status()),
		"task_id":        cfg.TaskID,
		"total_cost_usd": m.TotalCostUSD,
		"total_tokens":   m.TotalTokens,
	})
	if err := r.eventBus.Publish(ctx, eventType, event); err != nil {
		r.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("agent_id", sess.ID()),
			zap.Error(err))
	}
}
