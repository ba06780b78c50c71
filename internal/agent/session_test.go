package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/jeffjacobsen/orchestrator/internal/claude"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

func successScript(output, sessionID string) []claude.Message {
	return []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.TextBlock{Text: output},
		}},
		&claude.ResultMessage{
			Subtype:      "success",
			SessionID:    sessionID,
			TotalCostUSD: 0.0123,
			Usage: claude.Usage{
				InputTokens:              100,
				OutputTokens:             50,
				CacheCreationInputTokens: 10,
				CacheReadInputTokens:     5,
			},
		},
	}
}

func TestExecuteTaskSuccess(t *testing.T) {
	q := claude.NewScriptedQuerier(successScript("all done", "sess-1"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1", Role: v1.RoleBuilder}, q, nil, nil, nil)

	result := s.ExecuteTask(context.Background(), "build the thing")

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Output != "all done" {
		t.Errorf("output = %q", result.Output)
	}
	if s.Status() != v1.StatusCompleted {
		t.Errorf("status = %s, want completed", s.Status())
	}
	if s.SessionID() != "sess-1" {
		t.Errorf("session id = %q", s.SessionID())
	}
	if result.Metrics.TotalTokens != 165 {
		t.Errorf("total tokens = %d, want 165", result.Metrics.TotalTokens)
	}
	if result.Metrics.TotalCostUSD != 0.0123 {
		t.Errorf("cost = %f", result.Metrics.TotalCostUSD)
	}
}

func TestExecuteTaskErrorResult(t *testing.T) {
	q := claude.NewScriptedQuerier([]claude.Message{
		&claude.ResultMessage{Subtype: "error_during_execution", IsError: true, Result: "budget exceeded"},
	})
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)

	result := s.ExecuteTask(context.Background(), "build")

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error == "" {
		t.Error("expected error message in result")
	}
	if s.Status() != v1.StatusFailed {
		t.Errorf("status = %s, want failed", s.Status())
	}
}

func TestExecuteTaskQueryFailure(t *testing.T) {
	q := claude.NewScriptedQuerier()
	q.Err = errors.New("binary not found")
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)

	result := s.ExecuteTask(context.Background(), "build")

	if result.Success {
		t.Fatal("expected failure")
	}
	if s.Status() != v1.StatusFailed {
		t.Errorf("status = %s, want failed", s.Status())
	}
}

func TestExecuteTaskTracksFileActivity(t *testing.T) {
	script := []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.ToolUseBlock{ID: "t1", Name: "Read", Input: map[string]any{"file_path": "/src/main.go"}},
		}},
		&claude.UserMessage{Content: []claude.ContentBlock{
			claude.ToolResultBlock{ToolUseID: "t1", Content: "package main"},
		}},
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.ToolUseBlock{ID: "t2", Name: "Write", Input: map[string]any{"file_path": "/src/out.go"}},
		}},
		&claude.UserMessage{Content: []claude.ContentBlock{
			claude.ToolResultBlock{ToolUseID: "t2", Content: "ok"},
		}},
		&claude.ResultMessage{Subtype: "success"},
	}
	q := claude.NewScriptedQuerier(script)
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)

	result := s.ExecuteTask(context.Background(), "edit files")

	if got := result.Metrics.FilesRead; len(got) != 1 || got[0] != "/src/main.go" {
		t.Errorf("files read = %v", got)
	}
	if got := result.Metrics.FilesWritten; len(got) != 1 || got[0] != "/src/out.go" {
		t.Errorf("files written = %v", got)
	}
	if got := result.Artifacts; len(got) != 1 || got[0] != "/src/out.go" {
		t.Errorf("artifacts = %v", got)
	}
	if result.Metrics.ToolCallCount != 2 {
		t.Errorf("tool call count = %d", result.Metrics.ToolCallCount)
	}
	calls := s.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("tracked %d tool calls", len(calls))
	}
	for i, tc := range calls {
		if tc.Result == nil || !tc.Success {
			t.Errorf("call %d not paired with its result: %+v", i, tc)
		}
	}
}

func TestToolResultPairsLatestUnfilledCall(t *testing.T) {
	script := []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.ToolUseBlock{ID: "outer", Name: "Bash", Input: map[string]any{"command": "make"}},
			claude.ToolUseBlock{ID: "inner", Name: "Bash", Input: map[string]any{"command": "make test"}},
		}},
		&claude.UserMessage{Content: []claude.ContentBlock{
			claude.ToolResultBlock{ToolUseID: "inner", Content: "inner result"},
			claude.ToolResultBlock{ToolUseID: "outer", Content: "outer result", IsError: true},
		}},
		&claude.ResultMessage{Subtype: "success"},
	}
	q := claude.NewScriptedQuerier(script)
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "run")

	calls := s.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("tracked %d tool calls", len(calls))
	}
	if calls[1].Result != "inner result" || !calls[1].Success {
		t.Errorf("latest call paired wrong: %+v", calls[1])
	}
	if calls[0].Result != "outer result" || calls[0].Success || calls[0].Error == "" {
		t.Errorf("earlier call paired wrong: %+v", calls[0])
	}
}

func TestExecuteTaskEmitsProgress(t *testing.T) {
	script := []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.ThinkingBlock{Thinking: "planning the change"},
			claude.ToolUseBlock{ID: "t1", Name: "Grep", Input: map[string]any{"pattern": "foo"}},
			claude.TextBlock{Text: "done"},
		}},
		&claude.ResultMessage{Subtype: "success"},
	}
	var events []ProgressEvent
	progress := func(ctx context.Context, ev ProgressEvent) {
		events = append(events, ev)
	}
	q := claude.NewScriptedQuerier(script)
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, progress, nil)
	s.ExecuteTask(context.Background(), "search")

	want := []string{ProgressStarted, ProgressThinking, ProgressToolCall, ProgressCompleted}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
		if ev.AgentID != "agent-1" {
			t.Errorf("event %d agent id = %s", i, ev.AgentID)
		}
	}
	if events[2].Data != "Grep" {
		t.Errorf("tool_call event data = %q", events[2].Data)
	}
}

func TestSendMessageResumesCompletedAgent(t *testing.T) {
	q := claude.NewScriptedQuerier(
		successScript("first", "sess-xyz"),
		successScript("second answer", "sess-xyz"),
	)
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "first prompt")
	if s.Status() != v1.StatusCompleted {
		t.Fatalf("status = %s, want completed", s.Status())
	}

	reply, err := s.SendMessage(context.Background(), "follow up")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply == "" {
		t.Error("expected a reply")
	}
	if s.Status() != v1.StatusWaiting {
		t.Errorf("status = %s, want waiting", s.Status())
	}
	if s.Metrics().MessagesSent != 1 {
		t.Errorf("messages sent = %d", s.Metrics().MessagesSent)
	}

	calls := q.Calls()
	last := calls[len(calls)-1]
	if last.Options.Resume != "sess-xyz" {
		t.Errorf("resume token = %q", last.Options.Resume)
	}
}

func TestSendMessageUsesConfiguredSession(t *testing.T) {
	q := claude.NewScriptedQuerier(successScript("answer", "sess-abc"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "chat-1", SessionID: "sess-abc"}, q, nil, nil, nil)

	if _, err := s.SendMessage(context.Background(), "follow up"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if s.Status() != v1.StatusWaiting {
		t.Errorf("status = %s, want waiting", s.Status())
	}
	if got := q.Calls()[0].Options.Resume; got != "sess-abc" {
		t.Errorf("resume token = %q", got)
	}
}

func TestExecuteTaskResumesConfiguredSession(t *testing.T) {
	q := claude.NewScriptedQuerier(successScript("ok", "sess-next"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1", SessionID: "sess-prior"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "continue the work")

	if got := q.Calls()[0].Options.Resume; got != "sess-prior" {
		t.Errorf("resume token = %q", got)
	}
	if s.SessionID() != "sess-next" {
		t.Errorf("session id = %q", s.SessionID())
	}
}

func TestSendMessageWithoutSession(t *testing.T) {
	q := claude.NewScriptedQuerier()
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	if _, err := s.SendMessage(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for agent with no session to resume")
	}
}

func TestContextWindowUsage(t *testing.T) {
	q := claude.NewScriptedQuerier(successScript("ok", "s"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "go")

	usage := s.ContextWindowUsage()
	if usage.UsedTokens != 115 { // input + cache creation + cache read
		t.Errorf("used tokens = %d", usage.UsedTokens)
	}
	if usage.MaxTokens != ContextWindowSize {
		t.Errorf("max tokens = %d", usage.MaxTokens)
	}
	if usage.Percent <= 0 {
		t.Errorf("percent = %f", usage.Percent)
	}
}

func TestCleanupPreservesTerminalStatus(t *testing.T) {
	q := claude.NewScriptedQuerier(successScript("ok", "s"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "go")
	s.Cleanup()

	if s.Status() != v1.StatusCompleted {
		t.Errorf("status = %s, want completed preserved", s.Status())
	}
	if s.SessionID() != "" {
		t.Error("session id not cleared")
	}
	if len(s.ToolCalls()) != 0 {
		t.Error("tool calls not cleared")
	}
}

func TestCleanupMarksIdleAgentDeleted(t *testing.T) {
	q := claude.NewScriptedQuerier()
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.Cleanup()
	if s.Status() != v1.StatusDeleted {
		t.Errorf("status = %s, want deleted", s.Status())
	}
}

func TestExecuteTaskRejectsFailedAgent(t *testing.T) {
	q := claude.NewScriptedQuerier([]claude.Message{
		&claude.ResultMessage{Subtype: "error_during_execution", IsError: true, Result: "boom"},
	}, successScript("ok", "s"))
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "go")
	if s.Status() != v1.StatusFailed {
		t.Fatalf("status = %s, want failed", s.Status())
	}

	result := s.ExecuteTask(context.Background(), "again")
	if result.Success {
		t.Fatal("failed agent should not run again")
	}
}

func TestToolCallPendingUntilResult(t *testing.T) {
	script := []claude.Message{
		&claude.AssistantMessage{Content: []claude.ContentBlock{
			claude.ToolUseBlock{ID: "t1", Name: "Bash", Input: map[string]any{"command": "make"}},
		}},
		&claude.ResultMessage{Subtype: "success"},
	}
	q := claude.NewScriptedQuerier(script)
	s := NewSession("agent-1", v1.AgentConfig{Name: "builder-1"}, q, nil, nil, nil)
	s.ExecuteTask(context.Background(), "run")

	calls := s.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("tracked %d tool calls", len(calls))
	}
	if calls[0].Result != nil {
		t.Errorf("unresolved call has result %v", calls[0].Result)
	}
	if !calls[0].Success || calls[0].Error != "" {
		t.Errorf("unresolved call should stay presumed-successful: %+v", calls[0])
	}
}
