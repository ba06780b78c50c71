package prompts

import (
	"strings"
	"testing"

	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

func TestForRole(t *testing.T) {
	if p := ForRole(v1.RoleAnalyst); !strings.Contains(p, "targeted and focused") {
		t.Error("analyst prompt missing efficiency guidance")
	}
	if p := ForRole(v1.RoleBuilder); !strings.Contains(strings.ToLower(p), "implementation") {
		t.Error("builder prompt missing implementation focus")
	}
	// Unknown roles fall back to the custom prompt.
	if p := ForRole(v1.AgentRole("wizard")); !strings.Contains(p, "custom specialized agent") {
		t.Error("unknown role should fall back to custom prompt")
	}
}

func TestOutputFormatSections(t *testing.T) {
	// The roles whose output feeds the context distiller must mandate
	// the structured summary sections it parses.
	for _, role := range []v1.AgentRole{v1.RoleAnalyst, v1.RoleTester, v1.RoleDocumenter} {
		p := ForRole(role)
		if !strings.Contains(p, "OUTPUT FORMAT") {
			t.Errorf("%s prompt missing OUTPUT FORMAT section", role)
		}
		if !strings.Contains(p, "## Summary") {
			t.Errorf("%s prompt missing ## Summary", role)
		}
	}
}

func TestAnalystWithTaskContext(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Refactor authentication system to use JWT tokens", "refactoring task"},
		{"Investigate flaky login issue", "investigation task"},
		{"Implement rate limiting feature", "feature implementation task"},
		{"Quick fix for typo in error message", "simple task"},
		{"Update the changelog", ""},
	}
	for _, tt := range tests {
		p := AnalystWithTaskContext(tt.desc)
		if tt.want == "" {
			if strings.Contains(p, "Task-Specific Focus") {
				t.Errorf("%q: expected no task-specific section", tt.desc)
			}
			continue
		}
		if !strings.Contains(p, tt.want) {
			t.Errorf("%q: prompt missing %q", tt.desc, tt.want)
		}
	}
}

func TestAnalystForComplexity(t *testing.T) {
	simple := AnalystForComplexity("simple")
	if !strings.Contains(simple, "< 5 minutes") || !strings.Contains(simple, "< 200 words") {
		t.Error("simple analyst prompt missing brevity bounds")
	}
	complexPrompt := AnalystForComplexity("complex")
	if !strings.Contains(strings.ToLower(complexPrompt), "thorough") {
		t.Error("complex analyst prompt missing thoroughness guidance")
	}
}

func TestWithCustomInstructions(t *testing.T) {
	p := WithCustomInstructions(v1.RoleReviewer, "Pay special attention to SQL injection.")
	if !strings.Contains(p, "Additional Instructions:") || !strings.Contains(p, "SQL injection") {
		t.Error("custom instructions not appended")
	}
}

func TestWorkflowPlannerContract(t *testing.T) {
	if !strings.Contains(WorkflowPlanner, "ONLY valid JSON") {
		t.Error("planner prompt missing JSON-only contract")
	}
	for _, field := range []string{`"complexity"`, `"workflow"`, `"agent_role"`, `"depends_on"`, `"execution_mode"`} {
		if !strings.Contains(WorkflowPlanner, field) {
			t.Errorf("planner prompt missing field %s", field)
		}
	}
}
