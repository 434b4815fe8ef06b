// ABOUTME: Provider-neutral chat model interface used by the agent dispatcher
// ABOUTME: Requests and responses speak the thread transcript types directly

package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/assistant-gateway/internal/thread"
)

// ErrThrottled marks a rate-limit or capacity rejection. The dispatcher fails
// over to the next candidate model only for errors wrapping it.
var ErrThrottled = errors.New("model throttled")

// ErrUnknownProvider is returned when a model id names an unconfigured provider.
var ErrUnknownProvider = errors.New("unknown model provider")

// ToolSpec describes a tool the model may call. InputSchema is a JSON Schema
// object with "properties" and optionally "required".
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model call.
type Request struct {
	Model       string
	System      string
	Messages    []thread.Message
	Tools       []ToolSpec
	Temperature *float64
	MaxTokens   int64

	// OnText, if set, receives assistant text as it is produced.
	OnText func(string)
}

// StopReason explains why the model stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response is the assistant turn produced by a call.
type Response struct {
	Message    thread.Message
	StopReason StopReason
	Usage      Usage
}

// Provider performs model calls.
type Provider interface {
	Converse(ctx context.Context, req *Request) (*Response, error)
}

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens int64 = 4096

func throttled(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrThrottled, err)
}

func emitText(req *Request, text string) {
	if req.OnText != nil && text != "" {
		req.OnText(text)
	}
}

// schemaParts splits a JSON Schema object into its properties and required list.
func schemaParts(schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}

	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

// fullSchema returns a complete object schema for providers that take one.
func fullSchema(schema map[string]any) map[string]any {
	props, required := schemaParts(schema)
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
