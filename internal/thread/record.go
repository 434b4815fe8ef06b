// ABOUTME: Conversion between Thread and its stored record shape
// ABOUTME: Message fields may arrive serialized as text or already structured

package thread

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedRecord is returned when a stored record cannot be decoded.
var ErrMalformedRecord = errors.New("malformed thread record")

// Record is the persisted form of a thread. UIMessages and AgentMessages hold
// either serialized JSON (string, []byte, json.RawMessage) or decoded values,
// depending on what the backing driver returns.
type Record struct {
	ThreadID      string
	UserID        string
	Title         string
	UIMessages    any
	AgentMessages any
	Date          time.Time
	Deleted       bool
}

// FromRecord rebuilds a Thread from a stored record.
func FromRecord(r Record) (*Thread, error) {
	if r.ThreadID == "" {
		return nil, fmt.Errorf("%w: missing thread_id", ErrMalformedRecord)
	}

	t := &Thread{
		ID:            r.ThreadID,
		UserID:        r.UserID,
		Title:         r.Title,
		UIMessages:    []ChatItem{},
		AgentMessages: []Message{},
		LastUpdated:   r.Date,
		Deleted:       r.Deleted,
	}

	if err := decodeField(r.UIMessages, &t.UIMessages); err != nil {
		return nil, fmt.Errorf("%w: ui_msgs: %v", ErrMalformedRecord, err)
	}
	if err := decodeField(r.AgentMessages, &t.AgentMessages); err != nil {
		return nil, fmt.Errorf("%w: agent_msgs: %v", ErrMalformedRecord, err)
	}

	for i := range t.UIMessages {
		t.UIMessages[i].QueryResults = normalizeResults(t.UIMessages[i].QueryResults)
	}
	return t, nil
}

// EncodeMessages serializes both message views for storage.
func (t *Thread) EncodeMessages() (ui string, agent string, err error) {
	uiMsgs := t.UIMessages
	if uiMsgs == nil {
		uiMsgs = []ChatItem{}
	}
	agentMsgs := t.AgentMessages
	if agentMsgs == nil {
		agentMsgs = []Message{}
	}

	uiBytes, err := json.Marshal(uiMsgs)
	if err != nil {
		return "", "", fmt.Errorf("encoding ui_msgs: %w", err)
	}
	agentBytes, err := json.Marshal(agentMsgs)
	if err != nil {
		return "", "", fmt.Errorf("encoding agent_msgs: %w", err)
	}
	return string(uiBytes), string(agentBytes), nil
}

// decodeField fills dst from a serialized or structured value. Empty and
// null values leave dst unchanged.
func decodeField(v any, dst any) error {
	var data []byte
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		data = []byte(val)
	case []byte:
		data = val
	case json.RawMessage:
		data = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		data = b
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal([]byte(trimmed), dst)
}
