package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agent/prompts"
	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// Workflow templates by task type. "auto" and "custom" take the keyword
// heuristic instead.
var workflowTemplates = map[string][]v1.AgentRole{
	"simple_implementation":  {v1.RoleBuilder, v1.RoleTester},
	"simple_fix":             {v1.RoleBuilder, v1.RoleTester},
	"feature_implementation": {v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer},
	"bug_fix":                {v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer},
	"code_review":            {v1.RoleAnalyst, v1.RolePlanner, v1.RoleReviewer, v1.RoleTester},
	"documentation":          {v1.RoleAnalyst, v1.RolePlanner, v1.RoleDocumenter, v1.RoleReviewer},
	"refactoring":            {v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer},
	"testing":                {v1.RoleAnalyst, v1.RoleTester, v1.RoleReviewer},
	"investigation":          {v1.RoleAnalyst, v1.RolePlanner},
}

// looseTypes accept the generic "implementation" and "fix" type names and
// resolve them by complexity. Explicit catalog types are honored as given.
var looseTypes = map[string]struct{ simple, complex string }{
	"implementation": {"simple_implementation", "feature_implementation"},
	"fix":            {"simple_fix", "bug_fix"},
}

// complexKeywords force a task to be treated as complex regardless of
// length.
var complexKeywords = []string{
	"refactor", "redesign", "migrate", "architecture", "research",
	"analyze", "investigate", "comprehensive", "system", "multiple",
}

const simpleWordLimit = 50

// Complexity classifications.
const (
	ComplexitySimple  = "simple"
	ComplexityComplex = "complex"
)

// ClassifyComplexity applies the cheap heuristic: short descriptions with
// no scope-widening keywords are simple.
func ClassifyComplexity(description string) string {
	words := strings.Fields(description)
	if len(words) >= simpleWordLimit {
		return ComplexityComplex
	}
	lower := strings.ToLower(description)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return ComplexityComplex
		}
	}
	return ComplexitySimple
}

// roleDescription phrases the subtask for a role.
func roleDescription(role v1.AgentRole, task string) string {
	switch role {
	case v1.RoleAnalyst:
		return "Analyze the following task and produce findings for the implementation: " + task
	case v1.RolePlanner:
		return "Break the following task into concrete implementation steps: " + task
	case v1.RoleBuilder:
		return "Implement the following task: " + task
	case v1.RoleTester:
		return "Write and run tests verifying the following task: " + task
	case v1.RoleReviewer:
		return "Review the work done for the following task: " + task
	case v1.RoleDocumenter:
		return "Document the work done for the following task: " + task
	}
	return task
}

// roleKeywords drive role suggestion for auto-typed tasks. Checked in
// declaration order so suggested roles come out in a stable sequence.
var roleKeywords = []struct {
	role     v1.AgentRole
	keywords []string
}{
	{v1.RoleAnalyst, []string{"analyze", "investigate", "research", "understand", "debug"}},
	{v1.RoleBuilder, []string{"implement", "build", "create", "add", "fix", "refactor", "write"}},
	{v1.RoleTester, []string{"test", "verify", "validate"}},
	{v1.RoleReviewer, []string{"review", "audit"}},
	{v1.RoleDocumenter, []string{"document", "docs", "readme"}},
}

// suggestedRoles derives a role set for auto-typed tasks from keyword hits
// in the description, defaulting by complexity when nothing matches.
func suggestedRoles(description, complexity string) []v1.AgentRole {
	lower := strings.ToLower(description)
	var roles []v1.AgentRole
	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if strings.Contains(lower, kw) {
				roles = append(roles, rk.role)
				break
			}
		}
	}
	if len(roles) > 0 {
		return roles
	}
	if complexity == ComplexityComplex {
		return []v1.AgentRole{v1.RoleAnalyst, v1.RoleBuilder, v1.RoleTester}
	}
	return []v1.AgentRole{v1.RoleBuilder}
}

// TemplatePlanner maps task types to fixed role sequences.
type TemplatePlanner struct {
	logger *logger.Logger
}

// NewTemplatePlanner returns the heuristic planner.
func NewTemplatePlanner(log *logger.Logger) *TemplatePlanner {
	if log == nil {
		log = logger.Default()
	}
	return &TemplatePlanner{logger: log.WithFields(zap.String("component", "template-planner"))}
}

// Plan builds a plan from the template for taskType. "auto" and "custom"
// (and an empty type) go through the keyword heuristic; the generic
// "implementation" and "fix" types resolve to the simple or full workflow
// by complexity. Unknown task types are an error surfaced before any
// agent is spawned.
func (p *TemplatePlanner) Plan(taskID, description, taskType string) (*v1.Plan, error) {
	complexity := ClassifyComplexity(description)
	if taskType == "" || taskType == "auto" || taskType == "custom" {
		return p.planAuto(taskID, description, complexity), nil
	}
	if loose, ok := looseTypes[taskType]; ok {
		if complexity == ComplexitySimple {
			taskType = loose.simple
		} else {
			taskType = loose.complex
		}
	}
	roles, ok := workflowTemplates[taskType]
	if !ok {
		return nil, apperrors.ValidationError("task_type", fmt.Sprintf("unknown task type %q", taskType))
	}

	subtasks := make([]v1.Subtask, 0, len(roles))
	for _, role := range roles {
		subtasks = append(subtasks, v1.Subtask{
			Role:            role,
			Description:     roleDescription(role, description),
			ExecutionMode:   v1.ModeSequential,
			EstimatedTokens: estimateTokens(description),
		})
	}

	return &v1.Plan{
		TaskID:      taskID,
		Description: description,
		Subtasks:    subtasks,
		Status:      v1.TaskPending,
		CreatedAt:   time.Now().UTC(),
		Metadata: map[string]any{
			"task_type":  taskType,
			"complexity": complexity,
		},
	}, nil
}

// planAuto builds a parallel plan from the roles the description's
// keywords suggest. Parallel steps get no cross-agent context, so each
// subtask carries only its own role-phrased description.
func (p *TemplatePlanner) planAuto(taskID, description, complexity string) *v1.Plan {
	roles := suggestedRoles(description, complexity)
	subtasks := make([]v1.Subtask, 0, len(roles))
	for _, role := range roles {
		subtasks = append(subtasks, v1.Subtask{
			Role:            role,
			Description:     roleDescription(role, description),
			ExecutionMode:   v1.ModeParallel,
			EstimatedTokens: estimateTokens(description),
		})
	}
	return &v1.Plan{
		TaskID:      taskID,
		Description: description,
		Subtasks:    subtasks,
		Status:      v1.TaskPending,
		CreatedAt:   time.Now().UTC(),
		Metadata: map[string]any{
			"task_type":  "auto",
			"complexity": complexity,
		},
	}
}

// estimateTokens counts prompt tokens with the cl100k encoding, falling
// back to a word-count approximation if the encoding is unavailable.
func estimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(strings.Fields(text)) * 2
	}
	return len(enc.Encode(text, nil, nil))
}

// plannerResponse is the JSON contract the planner agent must emit.
type plannerResponse struct {
	Complexity string `json:"complexity"`
	Rationale  string `json:"rationale"`
	Workflow   []struct {
		AgentRole       string   `json:"agent_role"`
		Scope           string   `json:"scope"`
		Constraints     []string `json:"constraints"`
		EstimatedTokens int      `json:"estimated_tokens"`
		ExecutionMode   string   `json:"execution_mode"`
		DependsOn       []int    `json:"depends_on"`
	} `json:"workflow"`
	TotalEstimatedCost float64 `json:"total_estimated_cost"`
	SkipReasoning      string  `json:"skip_reasoning"`
}

// AIPlanner delegates plan construction to a one-shot planner agent and
// falls back to templates when the agent's output cannot be used.
type AIPlanner struct {
	registry *registry.Registry
	fallback *TemplatePlanner
	logger   *logger.Logger
}

// NewAIPlanner wires the delegating planner.
func NewAIPlanner(reg *registry.Registry, log *logger.Logger) *AIPlanner {
	if log == nil {
		log = logger.Default()
	}
	return &AIPlanner{
		registry: reg,
		fallback: NewTemplatePlanner(log),
		logger:   log.WithFields(zap.String("component", "ai-planner")),
	}
}

// Plan asks a planner agent for a workflow. Any failure along the way
// (execution, parsing, validation) degrades to the template plan with the
// reason recorded in plan metadata. An unknown task type still fails.
func (p *AIPlanner) Plan(ctx context.Context, taskID, description, taskType string) (*v1.Plan, error) {
	plan, err := p.delegate(ctx, taskID, description)
	if err == nil {
		return plan, nil
	}

	p.logger.Warn("planner agent failed, falling back to template",
		zap.String("task_id", taskID),
		zap.Error(err))
	plan, tmplErr := p.fallback.Plan(taskID, description, taskType)
	if tmplErr != nil {
		return nil, tmplErr
	}
	plan.Metadata["planner_fallback"] = err.Error()
	return plan, nil
}

func (p *AIPlanner) delegate(ctx context.Context, taskID, description string) (*v1.Plan, error) {
	sess, err := p.registry.Create(ctx, v1.AgentConfig{
		Name:         "workflow-planner",
		Role:         v1.RolePlanner,
		SystemPrompt: prompts.WorkflowPlanner,
		TaskID:       taskID,
	})
	if err != nil {
		return nil, fmt.Errorf("create planner agent: %w", err)
	}
	defer func() {
		_ = p.registry.Delete(ctx, sess.ID())
	}()

	prompt := fmt.Sprintf("Plan a workflow for this task:\n\n%s", description)
	result := sess.ExecuteTask(ctx, prompt)
	if !result.Success {
		return nil, fmt.Errorf("planner execution failed: %s", result.Error)
	}

	resp, err := parsePlannerResponse(result.Output)
	if err != nil {
		return nil, fmt.Errorf("parse planner output: %w", err)
	}

	plan, err := p.buildPlan(taskID, description, resp)
	if err != nil {
		return nil, fmt.Errorf("invalid planner output: %w", err)
	}
	return plan, nil
}

// parsePlannerResponse decodes the agent's JSON, repairing common model
// artifacts (fenced blocks, trailing commas, single quotes) on a first
// failure.
func parsePlannerResponse(output string) (*plannerResponse, error) {
	text := stripCodeFence(strings.TrimSpace(output))

	var resp plannerResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, fmt.Errorf("unmarshal failed (%v) and repair failed: %w", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, fmt.Errorf("unmarshal repaired output: %w", err)
		}
	}
	return &resp, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func (p *AIPlanner) buildPlan(taskID, description string, resp *plannerResponse) (*v1.Plan, error) {
	if len(resp.Workflow) == 0 {
		return nil, fmt.Errorf("planner returned an empty workflow")
	}

	subtasks := make([]v1.Subtask, 0, len(resp.Workflow))
	for i, step := range resp.Workflow {
		role, err := v1.ParseRole(step.AgentRole)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		mode := v1.ExecutionMode(step.ExecutionMode)
		if mode == "" {
			mode = v1.ModeSequential
		}
		if mode != v1.ModeSequential && mode != v1.ModeParallel {
			return nil, fmt.Errorf("step %d: unknown execution mode %q", i, step.ExecutionMode)
		}
		tokens := step.EstimatedTokens
		if tokens == 0 {
			tokens = estimateTokens(step.Scope)
		}
		subtasks = append(subtasks, v1.Subtask{
			Role:            role,
			Description:     step.Scope,
			Constraints:     step.Constraints,
			ExecutionMode:   mode,
			DependsOn:       step.DependsOn,
			EstimatedTokens: tokens,
		})
	}

	plan := &v1.Plan{
		TaskID:      taskID,
		Description: description,
		Subtasks:    subtasks,
		Status:      v1.TaskPending,
		CreatedAt:   time.Now().UTC(),
		Metadata: map[string]any{
			"complexity":           resp.Complexity,
			"rationale":            resp.Rationale,
			"total_estimated_cost": resp.TotalEstimatedCost,
		},
	}
	if resp.SkipReasoning != "" {
		plan.Metadata["skip_reasoning"] = resp.SkipReasoning
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
