// ABOUTME: Anthropic Messages API provider with streaming text deltas
// ABOUTME: Maps transcript blocks to and from the SDK's content block unions

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/assistant-gateway/internal/thread"
)

// statusOverloaded is Anthropic's capacity rejection.
const statusOverloaded = 529

// ProviderOptions configures an HTTP model provider.
type ProviderOptions struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider from opts.
func NewAnthropicProvider(opts ProviderOptions) *AnthropicProvider {
	reqOpts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		aoption.WithMaxRetries(opts.MaxRetries),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, aoption.WithBaseURL(base))
	}
	return &AnthropicProvider{client: anthropic.NewClient(reqOpts...)}
}

// Converse streams one assistant turn.
func (p *AnthropicProvider) Converse(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("anthropic: missing model")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	msg := anthropic.Message{}
	partialInput := map[int64]*strings.Builder{}

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, err
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				emitText(req, delta.Text)
			case anthropic.InputJSONDelta:
				b, ok := partialInput[ev.Index]
				if !ok {
					b = &strings.Builder{}
					partialInput[ev.Index] = b
				}
				b.WriteString(delta.PartialJSON)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	resp := &Response{
		Message: thread.Message{Role: thread.RoleAssistant},
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for i, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				resp.Message.Content = append(resp.Message.Content, thread.TextBlock(b.Text))
			}
		case anthropic.ToolUseBlock:
			input := json.RawMessage(b.Input)
			if partial, ok := partialInput[int64(i)]; ok && json.Valid([]byte(partial.String())) {
				input = json.RawMessage(partial.String())
			}
			resp.Message.Content = append(resp.Message.Content, thread.ToolUseBlock(b.ID, b.Name, input))
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	if len(resp.Message.ToolUses()) > 0 {
		resp.StopReason = StopToolUse
	}
	return resp, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == statusOverloaded {
			return throttled("anthropic", err)
		}
	}
	return err
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		props, required := schemaParts(spec.InputSchema)
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: props, Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func toAnthropicMessages(msgs []thread.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Kind() {
			case thread.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case thread.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUse.ID, b.ToolUse.Input, b.ToolUse.Name))
			case thread.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					b.ToolResult.ToolUseID,
					toolResultText(b.ToolResult),
					b.ToolResult.Status == thread.ToolStatusError,
				))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == thread.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toolResultText(r *thread.ToolResult) string {
	var sb strings.Builder
	for _, c := range r.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}
