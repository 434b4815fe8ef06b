// ABOUTME: Typed progress events emitted while a turn runs
// ABOUTME: Each kind has one fixed JSON shape used as an SSE data payload

package progress

import (
	"encoding/json"
	"fmt"

	"github.com/2389/assistant-gateway/internal/thread"
)

// Kind identifies a progress event variant.
type Kind string

const (
	KindHeartbeat Kind = "heartbeat"
	KindThinking  Kind = "thinking"
	KindToolUse   Kind = "tool_use"
	KindFinal     Kind = "final"
	KindError     Kind = "error"
)

// Event is a single progress notification.
type Event struct {
	Kind Kind

	// Content carries thinking text or an error message.
	Content string
	// Tool names the tool being invoked.
	Tool string
	// ThreadID and UIMessages describe the persisted thread on final.
	ThreadID   string
	UIMessages []thread.ChatItem
}

// Heartbeat is the keep-alive event emitted when nothing else is ready.
func Heartbeat() Event { return Event{Kind: KindHeartbeat} }

// Thinking carries incremental model text.
func Thinking(content string) Event { return Event{Kind: KindThinking, Content: content} }

// ToolUse announces a tool invocation.
func ToolUse(tool string) Event { return Event{Kind: KindToolUse, Tool: tool} }

// Final carries the thread's full UI view after a successful turn.
func Final(threadID string, ui []thread.ChatItem) Event {
	return Event{Kind: KindFinal, ThreadID: threadID, UIMessages: ui}
}

// Error reports a failed turn.
func Error(threadID, message string) Event {
	return Event{Kind: KindError, ThreadID: threadID, Content: message}
}

// IsTerminal reports whether the event ends the turn's payload stream.
func (e Event) IsTerminal() bool {
	return e.Kind == KindFinal || e.Kind == KindError
}

type heartbeatJSON struct {
	Type Kind `json:"type"`
}

type thinkingJSON struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

type toolUseJSON struct {
	Type Kind   `json:"type"`
	Tool string `json:"tool"`
}

type finalJSON struct {
	ThreadID   string            `json:"thread_id"`
	Type       Kind              `json:"type"`
	UIMessages []thread.ChatItem `json:"ui_msgs"`
	Status     string            `json:"status"`
}

type errorJSON struct {
	ThreadID string `json:"thread_id,omitempty"`
	Type     Kind   `json:"type"`
	Content  string `json:"content"`
	Status   string `json:"status"`
}

// MarshalJSON encodes the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindHeartbeat:
		return json.Marshal(heartbeatJSON{Type: e.Kind})
	case KindThinking:
		return json.Marshal(thinkingJSON{Type: e.Kind, Content: e.Content})
	case KindToolUse:
		return json.Marshal(toolUseJSON{Type: e.Kind, Tool: e.Tool})
	case KindFinal:
		ui := e.UIMessages
		if ui == nil {
			ui = []thread.ChatItem{}
		}
		return json.Marshal(finalJSON{ThreadID: e.ThreadID, Type: e.Kind, UIMessages: ui, Status: "success"})
	case KindError:
		return json.Marshal(errorJSON{ThreadID: e.ThreadID, Type: e.Kind, Content: e.Content, Status: "error"})
	default:
		return nil, fmt.Errorf("unknown progress event kind %q", e.Kind)
	}
}
