// Package agent implements the lifecycle of a single Claude Code agent:
// executing prompts against the streaming client, tracking tool activity
// and token usage, and reporting progress.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/agentlog"
	"github.com/jeffjacobsen/orchestrator/internal/claude"
	apperrors "github.com/jeffjacobsen/orchestrator/internal/common/errors"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// ContextWindowSize is the assumed model context window for usage reporting.
const ContextWindowSize = 200_000

// Progress event types emitted through a ProgressFunc.
const (
	ProgressStarted   = "started"
	ProgressThinking  = "thinking"
	ProgressToolCall  = "tool_call"
	ProgressActivity  = "activity"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// ProgressEvent is a lightweight notification about agent activity.
type ProgressEvent struct {
	Type      string
	AgentID   string
	AgentName string
	Data      string
}

// ProgressFunc receives progress events during execution. Implementations
// must not block; they run on the stream-consuming goroutine.
type ProgressFunc func(ctx context.Context, event ProgressEvent)

// ContextWindowUsage reports how much of the model context is consumed.
type ContextWindowUsage struct {
	UsedTokens int64   `json:"used_tokens"`
	MaxTokens  int64   `json:"max_tokens"`
	Percent    float64 `json:"percent"`
}

// Session is one agent: a configured identity plus the mutable state
// accumulated across executions. All methods are safe for concurrent use.
type Session struct {
	id       string
	config   v1.AgentConfig
	client   claude.Querier
	sink     *agentlog.Sink
	progress ProgressFunc
	logger   *logger.Logger

	mu           sync.Mutex
	status       v1.AgentStatus
	metrics      v1.AgentMetrics
	toolCalls    []v1.ToolCall
	pendingTools []int // indices into toolCalls awaiting a result, LIFO
	sessionID    string
	createdAt    time.Time
}

// NewSession builds a Session in the created state. progress may be nil.
func NewSession(id string, cfg v1.AgentConfig, client claude.Querier, sink *agentlog.Sink, progress ProgressFunc, log *logger.Logger) *Session {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Default()
	}
	now := time.Now().UTC()
	return &Session{
		id:       id,
		config:   cfg,
		client:   client,
		sink:     sink,
		progress: progress,
		logger:   log.WithAgentID(id),
		status:   v1.StatusCreated,
		metrics: v1.AgentMetrics{
			AgentID:   id,
			CreatedAt: now,
			UpdatedAt: now,
		},
		createdAt: now,
	}
}

// ID returns the agent id.
func (s *Session) ID() string { return s.id }

// Name returns the configured agent name.
func (s *Session) Name() string { return s.config.Name }

// Config returns a copy of the agent configuration.
func (s *Session) Config() v1.AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Status returns the current lifecycle status.
func (s *Session) Status() v1.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the agent, rejecting moves the lifecycle graph
// does not allow.
func (s *Session) SetStatus(status v1.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(status)
}

func (s *Session) setStatusLocked(status v1.AgentStatus) error {
	if s.status == status {
		return nil
	}
	if !s.status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, s.status, status)
	}
	s.status = status
	return nil
}

// Metrics returns a snapshot of the accumulated metrics.
func (s *Session) Metrics() v1.AgentMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	m.FilesRead = append([]string(nil), s.metrics.FilesRead...)
	m.FilesWritten = append([]string(nil), s.metrics.FilesWritten...)
	return m
}

// ToolCalls returns a copy of the tracked tool calls.
func (s *Session) ToolCalls() []v1.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.ToolCall, len(s.toolCalls))
	copy(out, s.toolCalls)
	return out
}

// SessionID returns the opaque resume token from the last execution.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// CreatedAt returns when the session was constructed.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ContextWindowUsage reports input-side token consumption against the
// assumed context window.
func (s *Session) ContextWindowUsage() ContextWindowUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.metrics.InputTokens + s.metrics.CacheCreationTokens + s.metrics.CacheReadTokens
	return ContextWindowUsage{
		UsedTokens: used,
		MaxTokens:  ContextWindowSize,
		Percent:    float64(used) / float64(ContextWindowSize) * 100,
	}
}

// ExecuteTask runs one prompt to completion. Failures never surface as Go
// errors; they come back as a failed TaskResult so workflow bookkeeping
// stays uniform.
func (s *Session) ExecuteTask(ctx context.Context, prompt string) *v1.TaskResult {
	start := time.Now()

	s.mu.Lock()
	if err := s.setStatusLocked(v1.StatusRunning); err != nil {
		s.mu.Unlock()
		return s.failedResult(ctx, prompt, start, err)
	}
	s.mu.Unlock()

	s.emit(ctx, ProgressStarted, truncateForEvent(prompt))
	s.sink.LogPrompt(prompt)

	output, resultErr := s.consumeStream(ctx, prompt, claude.Options{})
	if resultErr != nil {
		return s.failedResult(ctx, prompt, start, resultErr)
	}

	s.mu.Lock()
	_ = s.setStatusLocked(v1.StatusCompleted)
	s.metrics.ExecutionSeconds += time.Since(start).Seconds()
	s.metrics.UpdatedAt = time.Now().UTC()
	metrics := s.metrics
	metrics.FilesRead = append([]string(nil), s.metrics.FilesRead...)
	metrics.FilesWritten = append([]string(nil), s.metrics.FilesWritten...)
	artifacts := append([]string(nil), s.metrics.FilesWritten...)
	s.mu.Unlock()

	s.emit(ctx, ProgressCompleted, fmt.Sprintf("$%.4f", metrics.TotalCostUSD))
	s.logger.Info("Agent task completed",
		zap.Float64("cost_usd", metrics.TotalCostUSD),
		zap.Int64("total_tokens", metrics.TotalTokens))

	return &v1.TaskResult{
		AgentID:         s.id,
		TaskDescription: prompt,
		Success:         true,
		Output:          output,
		Metrics:         metrics,
		Artifacts:       artifacts,
		Timestamp:       time.Now().UTC(),
	}
}

// SendMessage sends a follow-up turn into the existing session. The agent
// must have a resume token: from a prior execution, or configured at
// creation. Completed agents re-enter the running state for the turn.
func (s *Session) SendMessage(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	resume := s.sessionID
	if resume == "" {
		resume = s.config.SessionID
	}
	if resume == "" {
		s.mu.Unlock()
		return "", apperrors.ErrAgentNotWaiting
	}
	if err := s.setStatusLocked(v1.StatusRunning); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.metrics.MessagesSent++
	s.mu.Unlock()

	output, err := s.consumeStream(ctx, text, claude.Options{Resume: resume})

	s.mu.Lock()
	if err != nil {
		_ = s.setStatusLocked(v1.StatusFailed)
	} else {
		_ = s.setStatusLocked(v1.StatusWaiting)
	}
	s.mu.Unlock()

	if err != nil {
		s.emit(ctx, ProgressFailed, err.Error())
		return "", err
	}
	return output, nil
}

// consumeStream issues the query and folds the stream into session state,
// returning the concatenated assistant text.
func (s *Session) consumeStream(ctx context.Context, prompt string, extra claude.Options) (string, error) {
	opts := s.buildOptions()
	if extra.Resume != "" {
		opts.Resume = extra.Resume
	}

	stream, err := s.client.Query(ctx, prompt, opts)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	var output strings.Builder
	var resultMsg *claude.ResultMessage

	for {
		msg, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream failed: %w", err)
		}
		s.sink.LogMessage(msg)

		switch m := msg.(type) {
		case *claude.AssistantMessage:
			for _, block := range m.Content {
				switch b := block.(type) {
				case claude.TextBlock:
					output.WriteString(b.Text)
				case claude.ThinkingBlock:
					s.emit(ctx, ProgressThinking, truncateForEvent(b.Thinking))
				case claude.ToolUseBlock:
					s.trackToolUse(b)
					s.emit(ctx, ProgressToolCall, b.Name)
				}
			}
		case *claude.UserMessage:
			for _, block := range m.Content {
				if b, ok := block.(claude.ToolResultBlock); ok {
					s.trackToolResult(b)
				}
			}
		case *claude.ResultMessage:
			resultMsg = m
			s.mu.Lock()
			s.metrics.AddTokens(
				m.Usage.InputTokens,
				m.Usage.OutputTokens,
				m.Usage.CacheCreationInputTokens,
				m.Usage.CacheReadInputTokens)
			s.metrics.TotalCostUSD += m.TotalCostUSD
			if m.SessionID != "" {
				s.sessionID = m.SessionID
			}
			s.mu.Unlock()
		}
	}

	if resultMsg != nil && resultMsg.IsError {
		msg := resultMsg.Result
		if msg == "" {
			msg = "execution reported an error"
		}
		return "", fmt.Errorf("agent error: %s", msg)
	}
	text := output.String()
	if text == "" && resultMsg != nil {
		text = resultMsg.Result
	}
	return text, nil
}

// trackToolUse records a tool invocation and the file it touches.
// Read feeds files_read; Write and Edit feed files_written. A call is
// presumed successful until a result says otherwise.
func (s *Session) trackToolUse(b claude.ToolUseBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toolCalls = append(s.toolCalls, v1.ToolCall{
		ToolName:  b.Name,
		Arguments: b.Input,
		Success:   true,
		Timestamp: time.Now().UTC(),
	})
	s.pendingTools = append(s.pendingTools, len(s.toolCalls)-1)
	s.metrics.ToolCallCount++

	path, _ := b.Input["file_path"].(string)
	switch b.Name {
	case "Read":
		s.metrics.RecordFileRead(path)
	case "Write", "Edit":
		s.metrics.RecordFileWritten(path)
	}
}

// trackToolResult pairs a result with the most recent pending tool call
// (LIFO). Nested calls resolve innermost-first, which is how the stream
// interleaves them.
func (s *Session) trackToolResult(b claude.ToolResultBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingTools) == 0 {
		return
	}
	i := s.pendingTools[len(s.pendingTools)-1]
	s.pendingTools = s.pendingTools[:len(s.pendingTools)-1]

	tc := &s.toolCalls[i]
	tc.Result = b.Content
	tc.Success = !b.IsError
	if b.IsError {
		tc.Error = fmt.Sprintf("%v", b.Content)
	}
}

// Cleanup releases the session. Terminal outcomes are preserved; anything
// still in flight is marked deleted. The resume token and tool-call buffer
// are cleared either way.
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.status != v1.StatusCompleted && s.status != v1.StatusFailed {
		s.status = v1.StatusDeleted
	}
	s.sessionID = ""
	s.toolCalls = nil
	s.pendingTools = nil
	s.mu.Unlock()

	s.sink.Close()
	s.logger.Debug("Agent session cleaned up")
}

func (s *Session) failedResult(ctx context.Context, prompt string, start time.Time, cause error) *v1.TaskResult {
	s.mu.Lock()
	if s.status.CanTransitionTo(v1.StatusFailed) {
		s.status = v1.StatusFailed
	}
	s.metrics.ExecutionSeconds += time.Since(start).Seconds()
	s.metrics.UpdatedAt = time.Now().UTC()
	metrics := s.metrics
	s.mu.Unlock()

	s.emit(ctx, ProgressFailed, cause.Error())
	s.logger.Error("Agent task failed", zap.Error(cause))

	return &v1.TaskResult{
		AgentID:         s.id,
		TaskDescription: prompt,
		Success:         false,
		Error:           cause.Error(),
		Metrics:         metrics,
		Timestamp:       time.Now().UTC(),
	}
}

func (s *Session) buildOptions() claude.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	resume := s.sessionID
	if resume == "" {
		resume = s.config.SessionID
	}
	return claude.Options{
		Model:          s.config.Model,
		SystemPrompt:   s.config.SystemPrompt,
		Cwd:            s.config.WorkingDir,
		AllowedTools:   append([]string(nil), s.config.AllowedTools...),
		PermissionMode: s.config.PermissionMode,
		Resume:         resume,
	}
}

func (s *Session) emit(ctx context.Context, eventType, data string) {
	if s.progress == nil {
		return
	}
	s.progress(ctx, ProgressEvent{
		Type:      eventType,
		AgentID:   s.id,
		AgentName: s.config.Name,
		Data:      data,
	})
}

func truncateForEvent(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
