// ABOUTME: Scripted in-process Provider for tests and offline development
// ABOUTME: Records every call so tests can assert failover order and history

package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/2389/assistant-gateway/internal/thread"
)

// Fake is a Provider whose behaviour is supplied by Handler.
type Fake struct {
	Handler func(ctx context.Context, req *Request) (*Response, error)

	mu    sync.Mutex
	calls []Request
}

// Converse records the request and delegates to Handler.
func (f *Fake) Converse(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	cp := *req
	cp.Messages = append([]thread.Message(nil), req.Messages...)
	f.calls = append(f.calls, cp)
	f.mu.Unlock()

	if f.Handler == nil {
		return TextResponse("ok"), nil
	}
	return f.Handler(ctx, req)
}

// Calls returns a snapshot of recorded requests.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// CalledModels lists the model of each recorded request in order.
func (f *Fake) CalledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	models := make([]string, len(f.calls))
	for i, c := range f.calls {
		models[i] = c.Model
	}
	return models
}

// TextResponse is a final assistant answer.
func TextResponse(text string) *Response {
	return &Response{
		Message:    thread.Message{Role: thread.RoleAssistant, Content: []thread.ContentBlock{thread.TextBlock(text)}},
		StopReason: StopEndTurn,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// ToolCallResponse asks for one tool call.
func ToolCallResponse(id, name string, input any) *Response {
	raw, _ := json.Marshal(input)
	return &Response{
		Message:    thread.Message{Role: thread.RoleAssistant, Content: []thread.ContentBlock{thread.ToolUseBlock(id, name, raw)}},
		StopReason: StopToolUse,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}
}
