// Package claude speaks the Claude Code CLI streaming protocol. It exposes
// a Querier interface that the rest of the orchestrator programs against,
// with a subprocess-backed implementation and message types mirroring the
// stream-json frames the CLI emits.
package claude

import "encoding/json"

// Options configures a single query against the CLI.
type Options struct {
	Model          string
	SystemPrompt   string
	Cwd            string
	AllowedTools   []string
	PermissionMode string
	// Resume continues a previous session. The value is the session id
	// returned in an earlier ResultMessage and is treated as opaque.
	Resume   string
	MaxTurns int
}

// Message is one frame of the response stream.
type Message interface {
	isMessage()
}

// ContentBlock is one block within an assistant or user message.
type ContentBlock interface {
	isBlock()
}

// TextBlock carries assistant-visible output text.
type TextBlock struct {
	Text string `json:"text"`
}

// ThinkingBlock carries extended-thinking content.
type ThinkingBlock struct {
	Thinking string `json:"thinking"`
}

// ToolUseBlock records the agent invoking a tool.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultBlock carries a tool's response back to the agent.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

func (TextBlock) isBlock()       {}
func (ThinkingBlock) isBlock()   {}
func (ToolUseBlock) isBlock()    {}
func (ToolResultBlock) isBlock() {}

// AssistantMessage is a turn of model output.
type AssistantMessage struct {
	Content []ContentBlock
}

// UserMessage carries tool results and user turns echoed into the stream.
type UserMessage struct {
	Content []ContentBlock
}

// SystemMessage is an informational frame (session init and similar).
type SystemMessage struct {
	Subtype string
	Raw     json.RawMessage
}

// Usage is the token accounting attached to a ResultMessage.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// ResultMessage terminates the stream with usage, cost, and session info.
type ResultMessage struct {
	Subtype      string  `json:"subtype"`
	DurationMS   int64   `json:"duration_ms"`
	IsError      bool    `json:"is_error"`
	NumTurns     int     `json:"num_turns"`
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        Usage   `json:"usage"`
}

func (*AssistantMessage) isMessage() {}
func (*UserMessage) isMessage()      {}
func (*SystemMessage) isMessage()    {}
func (*ResultMessage) isMessage()    {}
