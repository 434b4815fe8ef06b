// ABOUTME: Provider for OpenAI-compatible endpoints (Bedrock access gateways, vLLM, Ollama)
// ABOUTME: Uses go-openai so any base URL speaking the chat completions dialect works

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/2389/assistant-gateway/internal/thread"
)

// CompatibleProvider talks to any OpenAI-compatible chat completions endpoint.
type CompatibleProvider struct {
	client *goopenai.Client
}

// NewCompatibleProvider creates a provider from opts. BaseURL is required in
// practice; without it requests go to api.openai.com.
func NewCompatibleProvider(opts ProviderOptions) *CompatibleProvider {
	cfg := goopenai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.BaseURL = base
	}
	return &CompatibleProvider{client: goopenai.NewClientWithConfig(cfg)}
}

// Converse performs one chat completion.
func (p *CompatibleProvider) Converse(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("compatible: missing model")
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toCompatibleMessages(req.System, req.Messages),
		Tools:    toCompatibleTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	completion, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyCompatibleError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("compatible: empty completion")
	}

	choice := completion.Choices[0]
	resp := &Response{
		Message: thread.Message{Role: thread.RoleAssistant},
		Usage: Usage{
			InputTokens:  int64(completion.Usage.PromptTokens),
			OutputTokens: int64(completion.Usage.CompletionTokens),
		},
	}

	if text := choice.Message.Content; text != "" {
		emitText(req, text)
		resp.Message.Content = append(resp.Message.Content, thread.TextBlock(text))
	}
	for _, call := range choice.Message.ToolCalls {
		resp.Message.Content = append(resp.Message.Content,
			thread.ToolUseBlock(call.ID, call.Function.Name, rawArguments(call.Function.Arguments)))
	}

	switch {
	case len(choice.Message.ToolCalls) > 0:
		resp.StopReason = StopToolUse
	case choice.FinishReason == goopenai.FinishReasonLength:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

func classifyCompatibleError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return throttled("compatible", err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return throttled("compatible", err)
	}
	return err
}

func toCompatibleTools(specs []ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(specs))
	for _, spec := range specs {
		params, _ := json.Marshal(fullSchema(spec.InputSchema))
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}

func toCompatibleMessages(system string, msgs []thread.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: s})
	}

	for _, m := range msgs {
		if m.Role == thread.RoleAssistant {
			msg := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, use := range m.ToolUses() {
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   use.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      use.Name,
						Arguments: string(use.Input),
					},
				})
			}
			out = append(out, msg)
			continue
		}

		for _, result := range m.ToolResults() {
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    toolResultText(&result),
				ToolCallID: result.ToolUseID,
			})
		}
		if text := m.Text(); text != "" {
			out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: text})
		}
	}
	return out
}
