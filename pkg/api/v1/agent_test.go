package v1

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    AgentRole
		wantErr bool
	}{
		{"builder", RoleBuilder, false},
		{"BUILDER", RoleBuilder, false},
		{"  Tester ", RoleTester, false},
		{"orchestrator", RoleOrchestrator, false},
		{"wizard", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRole(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to AgentStatus }{
		{StatusCreated, StatusRunning},
		{StatusRunning, StatusWaiting},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusWaiting, StatusRunning},
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusDeleted},
		{StatusFailed, StatusDeleted},
		{StatusCreated, StatusDeleted},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to AgentStatus }{
		{StatusCreated, StatusCompleted},
		{StatusCreated, StatusWaiting},
		{StatusCompleted, StatusWaiting},
		{StatusFailed, StatusRunning},
		{StatusWaiting, StatusCompleted},
		{StatusDeleted, StatusRunning},
	}
	for _, tr := range denied {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestMetricsTotalInvariant(t *testing.T) {
	var m AgentMetrics
	m.AddTokens(100, 50, 10, 5)
	if m.TotalTokens != 165 {
		t.Errorf("TotalTokens = %d, want 165", m.TotalTokens)
	}
	m.AddTokens(1, 2, 3, 4)
	want := m.InputTokens + m.OutputTokens + m.CacheCreationTokens + m.CacheReadTokens
	if m.TotalTokens != want {
		t.Errorf("TotalTokens = %d, want sum of components %d", m.TotalTokens, want)
	}
}

func TestMetricsFileDedup(t *testing.T) {
	var m AgentMetrics
	m.RecordFileRead("a.go")
	m.RecordFileRead("b.go")
	m.RecordFileRead("a.go")
	m.RecordFileWritten("out.go")
	m.RecordFileWritten("out.go")
	if len(m.FilesRead) != 2 || m.FilesRead[0] != "a.go" || m.FilesRead[1] != "b.go" {
		t.Errorf("FilesRead = %v, want [a.go b.go]", m.FilesRead)
	}
	if len(m.FilesWritten) != 1 {
		t.Errorf("FilesWritten = %v, want [out.go]", m.FilesWritten)
	}
}

func TestMetricsMerge(t *testing.T) {
	a := AgentMetrics{InputTokens: 10, OutputTokens: 20, FilesRead: []string{"x.go"}}
	a.recomputeTotal()
	b := AgentMetrics{InputTokens: 5, CacheReadTokens: 7, TotalCostUSD: 0.25, FilesRead: []string{"x.go", "y.go"}}
	b.recomputeTotal()
	a.Merge(b)
	if a.TotalTokens != 42 {
		t.Errorf("merged TotalTokens = %d, want 42", a.TotalTokens)
	}
	if a.TotalCostUSD != 0.25 {
		t.Errorf("merged TotalCostUSD = %f, want 0.25", a.TotalCostUSD)
	}
	if len(a.FilesRead) != 2 {
		t.Errorf("merged FilesRead = %v, want 2 unique entries", a.FilesRead)
	}
}
