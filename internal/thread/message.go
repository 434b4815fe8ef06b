// ABOUTME: Agent transcript entries: role-tagged messages made of text, tool-use, and tool-result blocks
// ABOUTME: The JSON shape is what gets persisted in agent_msgs and replayed as model history

package thread

import (
	"encoding/json"
	"strings"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind distinguishes the variants of ContentBlock.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockToolUse
	BlockToolResult
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockToolUse:
		return "tool_use"
	case BlockToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Tool result statuses.
const (
	ToolStatusSuccess = "success"
	ToolStatusError   = "error"
)

// ToolUse is a model request to run a tool.
type ToolUse struct {
	ID    string          `json:"toolUseId"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultContent is one piece of tool output.
type ToolResultContent struct {
	Text string `json:"text"`
}

// ToolResult answers a ToolUse with the same ID.
type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Status    string              `json:"status"`
	Content   []ToolResultContent `json:"content"`
}

// ContentBlock is exactly one of text, tool use, or tool result.
type ContentBlock struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// Kind reports which variant the block holds.
func (b ContentBlock) Kind() BlockKind {
	switch {
	case b.ToolUse != nil:
		return BlockToolUse
	case b.ToolResult != nil:
		return BlockToolResult
	default:
		return BlockText
	}
}

// Message is one transcript entry.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Text: text}
}

// ToolUseBlock builds a tool-use block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// ToolResultBlock builds a tool-result block carrying a single text payload.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	status := ToolStatusSuccess
	if isError {
		status = ToolStatusError
	}
	return ContentBlock{ToolResult: &ToolResult{
		ToolUseID: toolUseID,
		Status:    status,
		Content:   []ToolResultContent{{Text: text}},
	}}
}

// UserText builds a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Kind() == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool-use blocks in order.
func (m Message) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range m.Content {
		if b.Kind() == BlockToolUse {
			uses = append(uses, *b.ToolUse)
		}
	}
	return uses
}

// ToolResults returns the tool-result blocks in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, b := range m.Content {
		if b.Kind() == BlockToolResult {
			results = append(results, *b.ToolResult)
		}
	}
	return results
}
