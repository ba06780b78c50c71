// Package agentlog writes per-agent execution transcripts to disk. Each
// agent run gets its own directory holding the prompt, the streamed text,
// a JSONL record of tool activity, and a JSONL summary of system and
// result frames. Sink failures are logged and swallowed so transcript
// trouble never breaks an execution.
package agentlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
)

// maxToolResultChars caps tool_result payloads written to tools.jsonl.
const maxToolResultChars = 2000

// Sink writes one agent's transcript. A nil or disabled Sink is a no-op.
type Sink struct {
	dir     string
	enabled bool
	logger  *logger.Logger

	textFile    *os.File
	toolsFile   *os.File
	summaryFile *os.File

	messagesProcessed int
}

// NewSink creates the transcript directory
// {root}/{taskID}/{agentID[:8]}_{name}_{timestamp}/ and opens its files.
// When enabled is false the returned Sink ignores every call.
func NewSink(root, taskID, agentID, name string, enabled bool, log *logger.Logger) *Sink {
	if log == nil {
		log = logger.Default()
	}
	s := &Sink{enabled: enabled, logger: log.WithAgentID(agentID)}
	if !enabled {
		return s
	}

	shortID := agentID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	ts := time.Now().Format("20060102_150405")
	s.dir = filepath.Join(root, taskID, fmt.Sprintf("%s_%s_%s", shortID, sanitizeName(name), ts))

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("Failed to create agent log directory", zap.Error(err))
		s.enabled = false
		return s
	}

	var err error
	if s.textFile, err = openAppend(filepath.Join(s.dir, "text.txt")); err != nil {
		s.logger.Warn("Failed to open text log", zap.Error(err))
		s.enabled = false
		return s
	}
	if s.toolsFile, err = openAppend(filepath.Join(s.dir, "tools.jsonl")); err != nil {
		s.logger.Warn("Failed to open tools log", zap.Error(err))
		s.enabled = false
		return s
	}
	if s.summaryFile, err = openAppend(filepath.Join(s.dir, "summary.jsonl")); err != nil {
		s.logger.Warn("Failed to open summary log", zap.Error(err))
		s.enabled = false
		return s
	}
	return s
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// sanitizeName keeps directory names filesystem-safe.
func sanitizeName(name string) string {
	if name == "" {
		return "agent"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Dir returns the transcript directory, empty when disabled.
func (s *Sink) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// LogPrompt writes the full prompt to prompt.txt.
func (s *Sink) LogPrompt(prompt string) {
	if s == nil || !s.enabled {
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, "prompt.txt"), []byte(prompt), 0o644); err != nil {
		s.logger.Warn("Failed to write prompt log", zap.Error(err))
	}
}

// LogMessage routes one stream message to the appropriate transcript file.
func (s *Sink) LogMessage(msg claude.Message) {
	if s == nil || !s.enabled {
		return
	}
	s.messagesProcessed++
	switch m := msg.(type) {
	case *claude.AssistantMessage:
		for _, block := range m.Content {
			switch b := block.(type) {
			case claude.TextBlock:
				s.writeText("AssistantMessage", b.Text)
			case claude.ThinkingBlock:
				s.writeText("THINKING", b.Thinking)
			case claude.ToolUseBlock:
				s.writeToolRecord(map[string]any{
					"timestamp":   time.Now().UTC().Format(time.RFC3339),
					"type":        "tool_use",
					"tool_name":   b.Name,
					"tool_use_id": b.ID,
					"input":       b.Input,
				})
			}
		}
	case *claude.UserMessage:
		for _, block := range m.Content {
			switch b := block.(type) {
			case claude.TextBlock:
				s.writeText("UserMessage", b.Text)
			case claude.ToolResultBlock:
				s.writeToolRecord(map[string]any{
					"timestamp":   time.Now().UTC().Format(time.RFC3339),
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     truncateContent(b.Content),
					"is_error":    b.IsError,
				})
			}
		}
	case *claude.SystemMessage:
		s.writeSummary(map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"type":      "system",
			"subtype":   m.Subtype,
		})
	case *claude.ResultMessage:
		s.writeSummary(map[string]any{
			"timestamp":                time.Now().UTC().Format(time.RFC3339),
			"type":                     "result",
			"subtype":                  m.Subtype,
			"duration_ms":              m.DurationMS,
			"num_turns":                m.NumTurns,
			"is_error":                 m.IsError,
			"session_id":               m.SessionID,
			"total_cost_usd":           m.TotalCostUSD,
			"usage":                    m.Usage,
			"total_messages_processed": s.messagesProcessed,
		})
	}
}

func (s *Sink) writeText(kind, text string) {
	entry := fmt.Sprintf("[%s] %s:\n%s\n\n", time.Now().UTC().Format(time.RFC3339), kind, text)
	if _, err := s.textFile.WriteString(entry); err != nil {
		s.logger.Warn("Failed to append text log", zap.Error(err))
	}
}

func (s *Sink) writeToolRecord(record map[string]any) {
	s.writeJSONL(s.toolsFile, record, "tools")
}

func (s *Sink) writeSummary(record map[string]any) {
	s.writeJSONL(s.summaryFile, record, "summary")
}

func (s *Sink) writeJSONL(f *os.File, record map[string]any, name string) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("Failed to marshal log record", zap.String("log", name), zap.Error(err))
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		s.logger.Warn("Failed to append log record", zap.String("log", name), zap.Error(err))
	}
}

// truncateContent stringifies a tool result and truncates it to
// maxToolResultChars, noting how much was dropped.
func truncateContent(content any) string {
	var text string
	switch v := content.(type) {
	case string:
		text = v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(data)
		}
	}
	if len(text) <= maxToolResultChars {
		return text
	}
	dropped := len(text) - maxToolResultChars
	return fmt.Sprintf("%s... (truncated %d chars)", text[:maxToolResultChars], dropped)
}

// Close flushes and closes the transcript files.
func (s *Sink) Close() {
	if s == nil || !s.enabled {
		return
	}
	for _, f := range []*os.File{s.textFile, s.toolsFile, s.summaryFile} {
		if f != nil {
			_ = f.Close()
		}
	}
	s.enabled = false
}
