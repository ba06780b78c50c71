package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/jeffjacobsen/orchestrator/internal/agent/registry"
	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		description string
		want        string
	}{
		{"fix the typo in the readme", ComplexitySimple},
		{"add a --json flag to the status command", ComplexitySimple},
		{"refactor the storage layer", ComplexityComplex},
		{"investigate the flaky websocket test", ComplexityComplex},
		{"build a system for syncing user preferences", ComplexityComplex},
	}
	for _, tt := range tests {
		if got := ClassifyComplexity(tt.description); got != tt.want {
			t.Errorf("ClassifyComplexity(%q) = %s, want %s", tt.description, got, tt.want)
		}
	}
}

func TestClassifyComplexityLongDescription(t *testing.T) {
	long := ""
	for i := 0; i < simpleWordLimit; i++ {
		long += "word "
	}
	if got := ClassifyComplexity(long); got != ComplexityComplex {
		t.Errorf("long description = %s, want complex", got)
	}
}

func TestTemplatePlannerKnownTypes(t *testing.T) {
	p := NewTemplatePlanner(nil)
	tests := []struct {
		taskType string
		roles    []v1.AgentRole
	}{
		{"feature_implementation", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer}},
		{"bug_fix", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer}},
		{"code_review", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner, v1.RoleReviewer, v1.RoleTester}},
		{"documentation", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner, v1.RoleDocumenter, v1.RoleReviewer}},
		{"refactoring", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner, v1.RoleBuilder, v1.RoleTester, v1.RoleReviewer}},
		{"testing", []v1.AgentRole{v1.RoleAnalyst, v1.RoleTester, v1.RoleReviewer}},
		{"investigation", []v1.AgentRole{v1.RoleAnalyst, v1.RolePlanner}},
	}
	for _, tt := range tests {
		plan, err := p.Plan("t1", "redesign the comprehensive multi-service architecture", tt.taskType)
		if err != nil {
			t.Errorf("%s: %v", tt.taskType, err)
			continue
		}
		if len(plan.Subtasks) != len(tt.roles) {
			t.Errorf("%s: %d subtasks, want %d", tt.taskType, len(plan.Subtasks), len(tt.roles))
			continue
		}
		for i, role := range tt.roles {
			if plan.Subtasks[i].Role != role {
				t.Errorf("%s step %d = %s, want %s", tt.taskType, i, plan.Subtasks[i].Role, role)
			}
		}
		if err := plan.Validate(); err != nil {
			t.Errorf("%s: plan invalid: %v", tt.taskType, err)
		}
	}
}

func TestTemplatePlannerLooseTypes(t *testing.T) {
	p := NewTemplatePlanner(nil)
	plan, err := p.Plan("t1", "fix the off by one in the pager", "implementation")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	roles := make([]v1.AgentRole, len(plan.Subtasks))
	for i, st := range plan.Subtasks {
		roles[i] = st.Role
	}
	if len(roles) != 2 || roles[0] != v1.RoleBuilder || roles[1] != v1.RoleTester {
		t.Errorf("simple implementation roles = %v", roles)
	}
	if plan.Metadata["task_type"] != "simple_implementation" {
		t.Errorf("task_type = %v", plan.Metadata["task_type"])
	}

	plan, err = p.Plan("t2", "fix the crash on empty input", "fix")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Metadata["task_type"] != "simple_fix" {
		t.Errorf("task_type = %v", plan.Metadata["task_type"])
	}

	// refactor keyword forces complex, which resolves to the full workflow
	plan, err = p.Plan("t3", "fix and refactor the retry loop", "fix")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Metadata["task_type"] != "bug_fix" {
		t.Errorf("task_type = %v", plan.Metadata["task_type"])
	}
}

// An explicit catalog type is honored as given even for a small task.
func TestTemplatePlannerExplicitTypeNotDowngraded(t *testing.T) {
	p := NewTemplatePlanner(nil)
	plan, err := p.Plan("t1", "Fix typo in README", "bug_fix")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Subtasks) != 5 {
		t.Fatalf("bug_fix steps = %d, want 5", len(plan.Subtasks))
	}
	if plan.Subtasks[0].Role != v1.RoleAnalyst || plan.Subtasks[4].Role != v1.RoleReviewer {
		t.Errorf("bug_fix roles = %+v", plan.Subtasks)
	}
}

func TestTemplatePlannerAutoType(t *testing.T) {
	p := NewTemplatePlanner(nil)

	plan, err := p.Plan("t1", "fix the off by one in the pager", "auto")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Subtasks) != 1 || plan.Subtasks[0].Role != v1.RoleBuilder {
		t.Errorf("simple auto plan = %+v", plan.Subtasks)
	}
	if plan.Subtasks[0].ExecutionMode != v1.ModeParallel {
		t.Errorf("auto subtasks should be parallel, got %s", plan.Subtasks[0].ExecutionMode)
	}

	// keyword hits come out in role declaration order
	plan, err = p.Plan("t2", "investigate the scheduler stall, implement a fix, and verify recovery", "auto")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	roles := make([]v1.AgentRole, len(plan.Subtasks))
	for i, st := range plan.Subtasks {
		roles[i] = st.Role
	}
	want := []v1.AgentRole{v1.RoleAnalyst, v1.RoleBuilder, v1.RoleTester}
	if len(roles) != len(want) {
		t.Fatalf("keyword auto roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %s, want %s", i, roles[i], want[i])
		}
	}
	if plan.Metadata["complexity"] != ComplexityComplex {
		t.Errorf("complexity = %v", plan.Metadata["complexity"])
	}

	// no keyword hits: complexity picks the default role set
	plan, err = p.Plan("t3", "redesign the settlement architecture", "auto")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Subtasks) != 3 {
		t.Errorf("complex default plan = %+v", plan.Subtasks)
	}
}

func TestTemplatePlannerUnknownType(t *testing.T) {
	p := NewTemplatePlanner(nil)
	if _, err := p.Plan("t1", "redesign the settlement architecture end to end", "mystery"); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestParsePlannerResponse(t *testing.T) {
	raw := `{
  "complexity": "complex",
  "rationale": "touches two services",
  "workflow": [
    {"agent_role": "analyst", "scope": "map the blast radius", "estimated_tokens": 2000, "execution_mode": "sequential", "depends_on": []},
    {"agent_role": "builder", "scope": "implement the change", "estimated_tokens": 8000, "execution_mode": "sequential", "depends_on": [0]}
  ],
  "total_estimated_cost": 0.4,
  "skip_reasoning": ""
}`
	resp, err := parsePlannerResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Complexity != "complex" || len(resp.Workflow) != 2 {
		t.Errorf("parsed = %+v", resp)
	}
}

func TestParsePlannerResponseFencedAndBroken(t *testing.T) {
	// trailing comma plus a markdown fence, both common model artifacts
	raw := "```json\n{\"complexity\": \"simple\", \"workflow\": [{\"agent_role\": \"builder\", \"scope\": \"do it\",}],}\n```"
	resp, err := parsePlannerResponse(raw)
	if err != nil {
		t.Fatalf("parse with repair: %v", err)
	}
	if len(resp.Workflow) != 1 || resp.Workflow[0].AgentRole != "builder" {
		t.Errorf("parsed = %+v", resp)
	}
}

func plannerScript(output string) []claude.Message {
	return []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{claude.TextBlock{Text: output}}},
		&claude.ResultMessage{Subtype: "success", SessionID: "s"},
	}
}

func newPlannerRegistry(t *testing.T, scripts ...[]claude.Message) *registry.Registry {
	t.Helper()
	q := claude.NewScriptedQuerier(scripts...)
	return registry.NewRegistry(q, nil, config.AgentConfig{
		Model:      "claude-sonnet-4-5",
		WorkingDir: t.TempDir(),
		LogDir:     t.TempDir(),
	}, nil)
}

func TestAIPlannerDelegateSystemPrompt(t *testing.T) {
	output := `{"complexity": "simple", "workflow": [
 {"agent_role": "builder", "scope": "do it", "depends_on": []}
]}`
	q := claude.NewScriptedQuerier(plannerScript(output))
	reg := registry.NewRegistry(q, nil, config.AgentConfig{
		Model:      "claude-sonnet-4-5",
		WorkingDir: t.TempDir(),
		LogDir:     t.TempDir(),
	}, nil)
	p := NewAIPlanner(reg, nil)

	if _, err := p.Plan(context.Background(), "t1", "change the thing", "bug_fix"); err != nil {
		t.Fatalf("plan: %v", err)
	}

	calls := q.Calls()
	if len(calls) != 1 {
		t.Fatalf("queries = %d", len(calls))
	}
	sysPrompt := calls[0].Options.SystemPrompt
	if !strings.Contains(sysPrompt, "WORKFLOW PLANNER") {
		t.Errorf("delegate not using the planner prompt:\n%s", sysPrompt)
	}
	if !strings.Contains(sysPrompt, "JSON") {
		t.Errorf("planner prompt missing the response contract:\n%s", sysPrompt)
	}
}

func TestAIPlannerUsesAgentOutput(t *testing.T) {
	output := `{"complexity": "complex", "rationale": "two stages",
"workflow": [
 {"agent_role": "analyst", "scope": "study the code", "execution_mode": "sequential", "depends_on": []},
 {"agent_role": "builder", "scope": "make the change", "execution_mode": "sequential", "depends_on": [0]}
], "total_estimated_cost": 0.2}`
	reg := newPlannerRegistry(t, plannerScript(output))
	p := NewAIPlanner(reg, nil)

	plan, err := p.Plan(context.Background(), "t1", "change the thing", "feature_implementation")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Subtasks) != 2 {
		t.Fatalf("subtasks = %d", len(plan.Subtasks))
	}
	if plan.Subtasks[1].Role != v1.RoleBuilder || len(plan.Subtasks[1].DependsOn) != 1 {
		t.Errorf("step 1 = %+v", plan.Subtasks[1])
	}
	if _, ok := plan.Metadata["planner_fallback"]; ok {
		t.Error("fallback marker set on successful delegation")
	}
	// one-shot planner agent is removed after planning
	if got := len(reg.List(registry.ListFilter{})); got != 0 {
		t.Errorf("planner agent leaked, %d agents registered", got)
	}
}

func TestAIPlannerFallsBackOnGarbage(t *testing.T) {
	reg := newPlannerRegistry(t, plannerScript("I think you should probably just do it carefully."))
	p := NewAIPlanner(reg, nil)

	plan, err := p.Plan(context.Background(), "t1", "fix the pager offset", "bug_fix")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, ok := plan.Metadata["planner_fallback"]; !ok {
		t.Error("expected fallback marker")
	}
	if len(plan.Subtasks) == 0 {
		t.Error("fallback plan is empty")
	}
	if got := len(reg.List(registry.ListFilter{})); got != 0 {
		t.Errorf("planner agent leaked, %d agents registered", got)
	}
}

func TestAIPlannerFallsBackOnInvalidWorkflow(t *testing.T) {
	// forward dependency fails plan validation
	output := `{"complexity": "complex", "workflow": [
 {"agent_role": "builder", "scope": "build", "depends_on": [1]},
 {"agent_role": "tester", "scope": "test", "depends_on": []}
]}`
	reg := newPlannerRegistry(t, plannerScript(output))
	p := NewAIPlanner(reg, nil)

	plan, err := p.Plan(context.Background(), "t1", "fix it", "bug_fix")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, ok := plan.Metadata["planner_fallback"]; !ok {
		t.Error("expected fallback marker for invalid workflow")
	}
}

func TestAIPlannerFallbackUnknownTypeErrors(t *testing.T) {
	reg := newPlannerRegistry(t, plannerScript("not a plan"))
	p := NewAIPlanner(reg, nil)

	if _, err := p.Plan(context.Background(), "t1", "fix it", "mystery"); err == nil {
		t.Fatal("expected error when fallback hits an unknown task type")
	}
}
