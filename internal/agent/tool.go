// ABOUTME: Tool definitions the dispatcher exposes to models
// ABOUTME: Handlers receive raw JSON input and return text plus optional result rows

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/assistant-gateway/internal/llm"
)

// ErrUnknownTool is reported to the model when it calls a tool that was not offered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrDuplicateTool indicates two tools share a name in one invocation.
var ErrDuplicateTool = errors.New("duplicate tool name")

// Output is what a tool hands back to the model.
type Output struct {
	Text string

	// Rows, when set, is a JSON array of result rows. The last tool output
	// carrying rows becomes the invocation's query results.
	Rows     json.RawMessage
	RowCount int
}

// TextOutput wraps plain text.
func TextOutput(text string) Output {
	return Output{Text: text}
}

// JSONOutput marshals v as the tool's text.
func JSONOutput(v any) (Output, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Output{}, fmt.Errorf("marshal tool output: %w", err)
	}
	return Output{Text: string(b)}, nil
}

// Handler executes one tool call.
type Handler func(ctx context.Context, input json.RawMessage) (Output, error)

// Tool is a named capability offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Spec returns the model-facing description of the tool.
func (t Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

type toolSet map[string]Tool

func newToolSet(tools []Tool) (toolSet, []llm.ToolSpec, error) {
	set := make(toolSet, len(tools))
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		if _, dup := set[t.Name]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		set[t.Name] = t
		specs = append(specs, t.Spec())
	}
	return set, specs, nil
}

// ObjectSchema builds an input schema with string-typed properties.
func ObjectSchema(required []string, props map[string]string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{"type": "string", "description": desc}
	}
	schema := map[string]any{"properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
