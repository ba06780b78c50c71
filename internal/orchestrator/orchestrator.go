// Package orchestrator is the facade tying planning, execution, the agent
// fleet, and task bookkeeping together. Everything the HTTP API and the CLI
// expose goes through it.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agent"
	"github.com/jeffjacobsen/orchestrator/internal/agent/prompts"
	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	"github.com/jeffjacobsen/orchestrator/internal/metrics"
	"github.com/jeffjacobsen/orchestrator/internal/workflow"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// AggregateAgentID marks a TaskResult as a whole-workflow aggregate rather
// than a single agent's output.
const AggregateAgentID = "orchestrator"

// ExecuteRequest describes one task submission.
type ExecuteRequest struct {
	Description string
	TaskType    string
	// Mode is "auto", "sequential", or "parallel". Auto lets the plan
	// decide.
	Mode string
	// UseAIPlanner overrides the configured planner choice when true.
	UseAIPlanner bool
}

// Orchestrator coordinates the agent fleet and workflow execution.
type Orchestrator struct {
	cfg       config.Config
	registry  *registry.Registry
	template  *workflow.TemplatePlanner
	aiPlanner *workflow.AIPlanner
	executor  *workflow.Executor
	collector *metrics.Collector
	eventBus  bus.EventBus
	logger    *logger.Logger

	mu    sync.RWMutex
	plans map[string]*v1.Plan

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
	monitorOn   atomic.Bool
}

// New wires an orchestrator from its parts. eventBus may be nil.
func New(cfg config.Config, client claude.Querier, eventBus bus.EventBus, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	reg := registry.NewRegistry(client, eventBus, cfg.Agent, log)
	return &Orchestrator{
		cfg:         cfg,
		registry:    reg,
		template:    workflow.NewTemplatePlanner(log),
		aiPlanner:   workflow.NewAIPlanner(reg, log),
		executor:    workflow.NewExecutor(reg, cfg.Agent.MaxConcurrent, log),
		collector:   metrics.NewCollector(),
		eventBus:    eventBus,
		logger:      log.WithFields(zap.String("component", "orchestrator")),
		plans:       make(map[string]*v1.Plan),
		monitorStop: make(chan struct{}),
	}
}

// Registry exposes the agent fleet, for surfaces that list or inspect
// agents directly.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Collector exposes the metrics aggregate.
func (o *Orchestrator) Collector() *metrics.Collector { return o.collector }

// Execute plans and runs a task end to end, returning the aggregate result.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*v1.TaskResult, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, apperrors.ValidationError("description", "task description is required")
	}
	taskID := uuid.New().String()

	plan, err := o.buildPlan(ctx, taskID, req)
	if err != nil {
		return nil, err
	}
	o.applyModeOverride(plan, req.Mode)
	o.trackPlan(plan)
	o.publishTaskEvent(ctx, events.TaskPlanned, plan)

	o.logger.Info("executing task",
		zap.String("task_id", taskID),
		zap.Int("steps", len(plan.Subtasks)),
		zap.String("mode", req.Mode))

	return o.run(ctx, plan)
}

// ExecuteCustom runs a caller-supplied workflow instead of a planned one.
func (o *Orchestrator) ExecuteCustom(ctx context.Context, description string, subtasks []v1.Subtask) (*v1.TaskResult, error) {
	plan := &v1.Plan{
		TaskID:      uuid.New().String(),
		Description: description,
		Subtasks:    subtasks,
		Status:      v1.TaskPending,
		CreatedAt:   time.Now().UTC(),
		Metadata:    map[string]any{"custom": true},
	}
	if err := plan.Validate(); err != nil {
		return nil, apperrors.ValidationError("subtasks", err.Error())
	}
	o.trackPlan(plan)
	o.publishTaskEvent(ctx, events.TaskPlanned, plan)
	return o.run(ctx, plan)
}

func (o *Orchestrator) buildPlan(ctx context.Context, taskID string, req ExecuteRequest) (*v1.Plan, error) {
	if req.UseAIPlanner || o.cfg.Planner.UseAI {
		return o.aiPlanner.Plan(ctx, taskID, req.Description, req.TaskType)
	}
	return o.template.Plan(taskID, req.Description, req.TaskType)
}

// applyModeOverride forces every subtask into the requested execution mode.
// "auto" (or empty) keeps whatever the planner chose.
func (o *Orchestrator) applyModeOverride(plan *v1.Plan, mode string) {
	var forced v1.ExecutionMode
	switch mode {
	case string(v1.ModeSequential):
		forced = v1.ModeSequential
	case string(v1.ModeParallel):
		forced = v1.ModeParallel
	default:
		return
	}
	for i := range plan.Subtasks {
		plan.Subtasks[i].ExecutionMode = forced
		if forced == v1.ModeParallel {
			plan.Subtasks[i].DependsOn = nil
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, plan *v1.Plan) (*v1.TaskResult, error) {
	plan.Status = v1.TaskInProgress
	o.publishTaskEvent(ctx, events.TaskUpdated, plan)

	results := o.executor.Execute(ctx, plan)
	aggregate := o.aggregate(plan, results)
	plan.MarkCompleted(aggregate)

	for range plan.AssignedAgents {
		o.collector.RecordAgentCreated()
	}
	o.collector.RecordUsage(AggregateAgentID, plan.TaskID, aggregate.Metrics)
	eventType := events.TaskCompleted
	if !aggregate.Success {
		eventType = events.TaskFailed
	}
	o.publishTaskEvent(ctx, eventType, plan)

	o.logger.Info("task finished",
		zap.String("task_id", plan.TaskID),
		zap.Bool("success", aggregate.Success),
		zap.Float64("cost_usd", aggregate.Metrics.TotalCostUSD))

	return aggregate, nil
}

// aggregate folds step results into one workflow-level TaskResult.
func (o *Orchestrator) aggregate(plan *v1.Plan, results []*v1.TaskResult) *v1.TaskResult {
	agg := &v1.TaskResult{
		AgentID:         AggregateAgentID,
		TaskDescription: plan.Description,
		Success:         true,
		Timestamp:       time.Now().UTC(),
	}
	agg.Metrics.AgentID = AggregateAgentID

	var outputs []string
	var errs []string
	seen := make(map[string]struct{})

	for _, r := range results {
		if r == nil {
			agg.Success = false
			continue
		}
		if r.Output != "" {
			outputs = append(outputs, fmt.Sprintf("[%s]: %s", r.AgentID, r.Output))
		}
		if !r.Success {
			agg.Success = false
			if r.Error != "" {
				errs = append(errs, r.Error)
			}
		}
		agg.Metrics.Merge(r.Metrics)
		for _, artifact := range r.Artifacts {
			if _, ok := seen[artifact]; ok {
				continue
			}
			seen[artifact] = struct{}{}
			agg.Artifacts = append(agg.Artifacts, artifact)
		}
	}

	agg.Output = strings.Join(outputs, "\n\n")
	agg.Error = strings.Join(errs, "; ")
	return agg
}

func (o *Orchestrator) trackPlan(plan *v1.Plan) {
	o.mu.Lock()
	o.plans[plan.TaskID] = plan
	o.mu.Unlock()
}

// GetTask returns the plan for a task id.
func (o *Orchestrator) GetTask(taskID string) (*v1.Plan, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	plan, ok := o.plans[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTaskNotFound, taskID)
	}
	return plan, nil
}

// ListTasks returns all tracked plans, newest first.
func (o *Orchestrator) ListTasks() []*v1.Plan {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*v1.Plan, 0, len(o.plans))
	for _, plan := range o.plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CreateAgent registers a standalone agent outside any workflow. A caller
// prompt on a role agent layers onto the role's base prompt as additional
// instructions; custom agents keep their prompt verbatim.
func (o *Orchestrator) CreateAgent(ctx context.Context, cfg v1.AgentConfig) (*agent.Session, error) {
	if cfg.SystemPrompt != "" && cfg.Role != "" && cfg.Role != v1.RoleCustom {
		cfg.SystemPrompt = prompts.WithCustomInstructions(cfg.Role, cfg.SystemPrompt)
	}
	sess, err := o.registry.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	o.collector.RecordAgentCreated()
	return sess, nil
}

// SendToAgent delivers a follow-up message to a waiting agent.
func (o *Orchestrator) SendToAgent(ctx context.Context, agentID, message string) (string, error) {
	sess, err := o.registry.Get(agentID)
	if err != nil {
		return "", err
	}
	reply, err := sess.SendMessage(ctx, message)
	if err != nil {
		return "", err
	}
	o.collector.RecordUsage(agentID, sess.Config().TaskID, sess.Metrics())
	return reply, nil
}

// DeleteAgent removes one agent.
func (o *Orchestrator) DeleteAgent(ctx context.Context, agentID string) error {
	return o.registry.Delete(ctx, agentID)
}

// ListAgents returns sessions matching the filter.
func (o *Orchestrator) ListAgents(filter registry.ListFilter) []*agent.Session {
	return o.registry.List(filter)
}

// AgentDetails is the full inspection view of one agent.
type AgentDetails struct {
	ID          string                   `json:"id"`
	Config      v1.AgentConfig           `json:"config"`
	Status      v1.AgentStatus           `json:"status"`
	Metrics     v1.AgentMetrics          `json:"metrics"`
	ToolCalls   []v1.ToolCall            `json:"tool_calls,omitempty"`
	ContextInfo agent.ContextWindowUsage `json:"context_window"`
}

// AgentDetails returns everything known about one agent.
func (o *Orchestrator) AgentDetails(agentID string) (*AgentDetails, error) {
	sess, err := o.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	return &AgentDetails{
		ID:          sess.ID(),
		Config:      sess.Config(),
		Status:      sess.Status(),
		Metrics:     sess.Metrics(),
		ToolCalls:   sess.ToolCalls(),
		ContextInfo: sess.ContextWindowUsage(),
	}, nil
}

// Status is the operator-facing overview.
type Status struct {
	Fleet        v1.FleetSummary `json:"fleet"`
	Tasks        int             `json:"tasks"`
	ActiveTasks  int             `json:"active_tasks"`
	UsageSummary metrics.Summary `json:"usage"`
	Monitoring   bool            `json:"monitoring"`
}

// Status reports fleet, task, and usage aggregates.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	total := len(o.plans)
	active := 0
	for _, plan := range o.plans {
		if plan.Status == v1.TaskInProgress || plan.Status == v1.TaskPending {
			active++
		}
	}
	o.mu.RUnlock()

	return Status{
		Fleet:        o.registry.FleetSummary(),
		Tasks:        total,
		ActiveTasks:  active,
		UsageSummary: o.collector.Summary(),
		Monitoring:   o.monitorOn.Load(),
	}
}

// CleanupCompleted removes terminal agents from the fleet.
func (o *Orchestrator) CleanupCompleted(ctx context.Context) int {
	return o.registry.CleanupCompleted(ctx)
}

// Stop halts the monitor and deletes every agent.
func (o *Orchestrator) Stop(ctx context.Context) {
	select {
	case <-o.monitorStop:
	default:
		close(o.monitorStop)
	}
	o.monitorWG.Wait()
	deleted := o.registry.DeleteAll(ctx)
	o.logger.Info("orchestrator stopped", zap.Int("agents_deleted", deleted))
}

func (o *Orchestrator) publishTaskEvent(ctx context.Context, eventType string, plan *v1.Plan) {
	if o.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"task_id":     plan.TaskID,
		"description": plan.Description,
		"status":      string(plan.Status),
		"steps":       len(plan.Subtasks),
		"step":        plan.CurrentStep,
	}
	if plan.Result != nil {
		data["success"] = plan.Result.Success
		data["cost_usd"] = plan.Result.Metrics.TotalCostUSD
		data["total_tokens"] = plan.Result.Metrics.TotalTokens
	}
	event := bus.NewEvent(eventType, "orchestrator", data)
	if err := o.eventBus.Publish(ctx, eventType, event); err != nil {
		o.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", plan.TaskID),
			zap.Error(err))
	}
}
