package claude

import (
	"encoding/json"
	"fmt"
)

// rawFrame is the envelope of every stream-json line.
type rawFrame struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Message json.RawMessage `json:"message"`
}

// rawContentBlock is the envelope of a content block within a message.
type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type rawMessageBody struct {
	Content []rawContentBlock `json:"content"`
}

// DecodeMessage parses one stream-json line into a typed Message.
// Unknown frame types are returned as SystemMessage so callers can log
// them without the stream aborting.
func DecodeMessage(line []byte) (Message, error) {
	var frame rawFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("malformed stream frame: %w", err)
	}

	switch frame.Type {
	case "assistant":
		blocks, err := decodeBlocks(frame.Message)
		if err != nil {
			return nil, err
		}
		return &AssistantMessage{Content: blocks}, nil
	case "user":
		blocks, err := decodeBlocks(frame.Message)
		if err != nil {
			return nil, err
		}
		return &UserMessage{Content: blocks}, nil
	case "result":
		var result ResultMessage
		if err := json.Unmarshal(line, &result); err != nil {
			return nil, fmt.Errorf("malformed result frame: %w", err)
		}
		return &result, nil
	case "system":
		return &SystemMessage{Subtype: frame.Subtype, Raw: append(json.RawMessage(nil), line...)}, nil
	default:
		return &SystemMessage{Subtype: frame.Type, Raw: append(json.RawMessage(nil), line...)}, nil
	}
}

func decodeBlocks(body json.RawMessage) ([]ContentBlock, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var msg rawMessageBody
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("malformed message body: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, raw := range msg.Content {
		switch raw.Type {
		case "text":
			blocks = append(blocks, TextBlock{Text: raw.Text})
		case "thinking":
			blocks = append(blocks, ThinkingBlock{Thinking: raw.Thinking})
		case "tool_use":
			blocks = append(blocks, ToolUseBlock{ID: raw.ID, Name: raw.Name, Input: raw.Input})
		case "tool_result":
			var content any
			if len(raw.Content) > 0 {
				if err := json.Unmarshal(raw.Content, &content); err != nil {
					content = string(raw.Content)
				}
			}
			blocks = append(blocks, ToolResultBlock{
				ToolUseID: raw.ToolUseID,
				Content:   content,
				IsError:   raw.IsError,
			})
		}
		// Unknown block types are skipped.
	}
	return blocks, nil
}
