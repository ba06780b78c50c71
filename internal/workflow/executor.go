package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// Executor runs a plan's subtasks against freshly created specialized
// agents. Workflow agents are always cleaned up once execution finishes,
// whatever the outcome.
type Executor struct {
	registry      *registry.Registry
	maxConcurrent int
	logger        *logger.Logger

	// guards plan.AssignedAgents across parallel steps
	planMu sync.Mutex
}

// NewExecutor builds an executor. maxConcurrent bounds parallel and
// dependency execution; values below 1 mean unbounded.
func NewExecutor(reg *registry.Registry, maxConcurrent int, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		registry:      reg,
		maxConcurrent: maxConcurrent,
		logger:        log.WithFields(zap.String("component", "workflow-executor")),
	}
}

// Execute picks the strategy the plan calls for: explicit dependencies win,
// then an all-parallel plan, otherwise sequential. Results come back in
// subtask order.
func (e *Executor) Execute(ctx context.Context, plan *v1.Plan) []*v1.TaskResult {
	defer e.CleanupWorkflowAgents(ctx, plan.TaskID)

	plan.Status = v1.TaskInProgress

	switch {
	case hasDependencies(plan):
		return e.executeWithDependencies(ctx, plan)
	case allParallel(plan):
		return e.executeParallel(ctx, plan)
	default:
		return e.executeSequential(ctx, plan)
	}
}

func hasDependencies(plan *v1.Plan) bool {
	for _, st := range plan.Subtasks {
		if len(st.DependsOn) > 0 {
			return true
		}
	}
	return false
}

func allParallel(plan *v1.Plan) bool {
	if len(plan.Subtasks) < 2 {
		return false
	}
	for _, st := range plan.Subtasks {
		if st.ExecutionMode != v1.ModeParallel {
			return false
		}
	}
	return true
}

// executeSequential runs steps in order, handing each one the distilled
// context of its predecessor. A failed step does not abort the workflow,
// but its output is not carried forward: the next agent starts from its
// own description alone.
func (e *Executor) executeSequential(ctx context.Context, plan *v1.Plan) []*v1.TaskResult {
	results := make([]*v1.TaskResult, 0, len(plan.Subtasks))
	var prev *Distilled

	for i, st := range plan.Subtasks {
		plan.CurrentStep = i

		carried := ""
		if prev != nil {
			carried = prev.ForwardContext()
		}

		result := e.runStep(ctx, plan, i, st, carried)
		results = append(results, result)

		if !result.Success {
			prev = nil
			continue
		}
		prev = Distill(st.Role, result.Output)
		if prev.RequiresFix {
			e.logger.Warn("step output flagged for fixes",
				zap.String("task_id", plan.TaskID),
				zap.Int("step", i),
				zap.String("role", string(st.Role)))
		}
	}
	return results
}

// executeParallel fans all steps out at once. Siblings are never cancelled
// on failure; every step reports its own result.
func (e *Executor) executeParallel(ctx context.Context, plan *v1.Plan) []*v1.TaskResult {
	results := make([]*v1.TaskResult, len(plan.Subtasks))
	sem := e.semaphore()

	var wg sync.WaitGroup
	for i, st := range plan.Subtasks {
		wg.Add(1)
		go func(i int, st v1.Subtask) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = e.syntheticFailure(plan, i, st, fmt.Sprintf("step panicked: %v", r))
				}
			}()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = e.runStep(ctx, plan, i, st, "")
		}(i, st)
	}
	wg.Wait()
	return results
}

// executeWithDependencies runs each step as soon as everything it depends
// on has finished, passing the prerequisites' distilled contexts in step
// order. Plan validation guarantees backward-only references, so the done
// channels cannot deadlock.
func (e *Executor) executeWithDependencies(ctx context.Context, plan *v1.Plan) []*v1.TaskResult {
	n := len(plan.Subtasks)
	results := make([]*v1.TaskResult, n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}
	sem := e.semaphore()

	var wg sync.WaitGroup
	for i, st := range plan.Subtasks {
		wg.Add(1)
		go func(i int, st v1.Subtask) {
			defer wg.Done()
			defer close(done[i])
			defer func() {
				if r := recover(); r != nil {
					results[i] = e.syntheticFailure(plan, i, st, fmt.Sprintf("step panicked: %v", r))
				}
			}()

			for _, dep := range st.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					results[i] = e.syntheticFailure(plan, i, st, ctx.Err().Error())
					return
				}
			}

			carried := e.dependencyContext(plan, results, st.DependsOn)

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = e.syntheticFailure(plan, i, st, ctx.Err().Error())
					return
				}
			}
			results[i] = e.runStep(ctx, plan, i, st, carried)
		}(i, st)
	}
	wg.Wait()
	return results
}

// dependencyContext concatenates prerequisite contexts in step order so the
// dependent agent sees them deterministically.
func (e *Executor) dependencyContext(plan *v1.Plan, results []*v1.TaskResult, deps []int) string {
	ordered := append([]int(nil), deps...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1] > ordered[j]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	var parts []string
	for _, dep := range ordered {
		result := results[dep]
		if result == nil {
			continue
		}
		input := result.Output
		if !result.Success && input == "" {
			input = result.Error
		}
		d := Distill(plan.Subtasks[dep].Role, input)
		if result.Success {
			parts = append(parts, d.ForwardContext())
		} else {
			parts = append(parts, d.ErrorContext())
		}
	}
	return strings.Join(parts, "\n\n")
}

// runStep creates the step's agent, executes it, and records it on the
// plan. Carried context from earlier steps goes into the task prompt, not
// the system prompt, so the agent sees it as input rather than identity.
// The agent itself stays registered until workflow cleanup.
func (e *Executor) runStep(ctx context.Context, plan *v1.Plan, index int, st v1.Subtask, carried string) *v1.TaskResult {
	complexity, _ := plan.Metadata["complexity"].(string)
	sess, err := e.registry.CreateSpecialized(ctx, registry.SpecializedSpec{
		Role:        st.Role,
		Name:        fmt.Sprintf("%s-%d", st.Role, index+1),
		TaskContext: st.Context,
		Constraints: st.Constraints,
		TaskID:      plan.TaskID,
		Complexity:  complexity,
	})
	if err != nil {
		return e.syntheticFailure(plan, index, st, fmt.Sprintf("create agent: %v", err))
	}

	e.appendAssignedAgent(plan, sess.ID())
	e.logger.Info("running workflow step",
		zap.String("task_id", plan.TaskID),
		zap.Int("step", index),
		zap.String("role", string(st.Role)),
		zap.String("agent_id", sess.ID()))

	prompt := st.Description
	if carried != "" {
		prompt += "\n\n" + carried
	}
	return sess.ExecuteTask(ctx, prompt)
}

func (e *Executor) appendAssignedAgent(plan *v1.Plan, agentID string) {
	e.planMu.Lock()
	plan.AssignedAgents = append(plan.AssignedAgents, agentID)
	e.planMu.Unlock()
}

func (e *Executor) syntheticFailure(plan *v1.Plan, index int, st v1.Subtask, msg string) *v1.TaskResult {
	e.logger.Error("workflow step failed before execution",
		zap.String("task_id", plan.TaskID),
		zap.Int("step", index),
		zap.String("error", msg))
	return &v1.TaskResult{
		TaskDescription: st.Description,
		Success:         false,
		Error:           msg,
		Timestamp:       time.Now().UTC(),
	}
}

// CleanupWorkflowAgents deletes every agent created for the task.
func (e *Executor) CleanupWorkflowAgents(ctx context.Context, taskID string) int {
	sessions := e.registry.List(registry.ListFilter{TaskID: taskID})
	deleted := 0
	for _, sess := range sessions {
		if err := e.registry.Delete(ctx, sess.ID()); err != nil {
			e.logger.Warn("failed to delete workflow agent",
				zap.String("agent_id", sess.ID()),
				zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		e.logger.Debug("workflow agents cleaned up",
			zap.String("task_id", taskID),
			zap.Int("count", deleted))
	}
	return deleted
}

func (e *Executor) semaphore() chan struct{} {
	if e.maxConcurrent <= 0 {
		return nil
	}
	return make(chan struct{}, e.maxConcurrent)
}
