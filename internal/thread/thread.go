// ABOUTME: In-memory conversation thread with a UI view and an agent transcript view
// ABOUTME: Provides creation, transcript replacement, turn append, and chart backfill helpers

package thread

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Usage records token accounting and wall-clock latency (seconds) for one turn.
type Usage struct {
	Input       int64   `json:"input"`
	Output      int64   `json:"output"`
	TotalTokens int64   `json:"total_tokens"`
	Latency     float64 `json:"latency"`
}

// ChatItem is the user-facing record of one completed turn.
type ChatItem struct {
	TurnID       string          `json:"turn_id,omitempty"`
	Human        string          `json:"human"`
	AI           string          `json:"ai"`
	QueryResults json.RawMessage `json:"query_results"`
	ShowGraph    bool            `json:"show_graph"`
	GraphCode    string          `json:"graph_code"`
	Usage        Usage           `json:"usage"`
}

// Thread is a conversation owned by a single user.
//
// UIMessages holds one ChatItem per completed turn. AgentMessages is the full
// transcript passed back to the model as history and always contains at least
// as many turns as UIMessages.
type Thread struct {
	ID            string
	UserID        string
	Title         string
	UIMessages    []ChatItem
	AgentMessages []Message
	LastUpdated   time.Time
	Deleted       bool
}

// emptyResults is the canonical "no rows" value for ChatItem.QueryResults.
var emptyResults = json.RawMessage(`[]`)

// NewID returns a fresh opaque identifier for threads and turns.
func NewID() string {
	return uuid.New().String()
}

// New creates a thread for userID whose title is the first human message.
func New(human, userID string) *Thread {
	return &Thread{
		ID:            NewID(),
		UserID:        userID,
		Title:         human,
		UIMessages:    []ChatItem{},
		AgentMessages: []Message{},
		LastUpdated:   time.Now().UTC(),
	}
}

// ReplaceAgentMessages swaps the transcript wholesale.
func (t *Thread) ReplaceAgentMessages(msgs []Message) {
	if msgs == nil {
		msgs = []Message{}
	}
	t.AgentMessages = msgs
}

// AppendUITurn appends a ChatItem for a completed turn and returns a copy of it.
// Earlier items are left untouched.
func (t *Thread) AppendUITurn(human, ai string, queryResults json.RawMessage, showGraph bool, usage Usage) ChatItem {
	item := ChatItem{
		TurnID:       NewID(),
		Human:        human,
		AI:           ai,
		QueryResults: normalizeResults(queryResults),
		ShowGraph:    showGraph,
		Usage:        usage,
	}
	t.UIMessages = append(t.UIMessages, item)
	return item
}

// SetTitle replaces the thread title.
func (t *Thread) SetTitle(title string) {
	t.Title = title
}

// DefaultTitle sets the title to human when the thread has no completed turns.
// Calling it again after a turn has been appended is a no-op.
func (t *Thread) DefaultTitle(human string) {
	if len(t.UIMessages) == 0 {
		t.SetTitle(human)
	}
}

// Touch stamps the thread with the current time.
func (t *Thread) Touch() {
	t.LastUpdated = time.Now().UTC()
}

// FindTurn locates the ChatItem to backfill. A non-empty turnID must match
// exactly; otherwise the most recent item whose human text matches is used.
// Returns -1 when nothing matches.
func (t *Thread) FindTurn(turnID, human string) int {
	if turnID != "" {
		for i := range t.UIMessages {
			if t.UIMessages[i].TurnID == turnID {
				return i
			}
		}
		return -1
	}

	human = strings.TrimSpace(human)
	for i := len(t.UIMessages) - 1; i >= 0; i-- {
		if strings.TrimSpace(t.UIMessages[i].Human) == human {
			return i
		}
	}
	return -1
}

// SetGraphCode backfills the chart definition on the ChatItem at idx.
func (t *Thread) SetGraphCode(idx int, code string) bool {
	if idx < 0 || idx >= len(t.UIMessages) {
		return false
	}
	t.UIMessages[idx].GraphCode = code
	return true
}

// Clone returns a copy whose message slices can be mutated without touching t.
// Content blocks are shared; they are never modified in place.
func (t *Thread) Clone() *Thread {
	cp := *t
	cp.UIMessages = append(make([]ChatItem, 0, len(t.UIMessages)+1), t.UIMessages...)
	cp.AgentMessages = append(make([]Message, 0, len(t.AgentMessages)), t.AgentMessages...)
	return &cp
}

// MessageCount returns the number of completed turns.
func (t *Thread) MessageCount() int {
	return len(t.UIMessages)
}

func normalizeResults(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return emptyResults
	}
	return raw
}
