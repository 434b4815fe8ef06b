// ABOUTME: OpenAI Chat Completions provider built on the official openai-go SDK
// ABOUTME: Tool uses become function tool calls; tool results become tool messages

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/2389/assistant-gateway/internal/thread"
)

// OpenAIProvider talks to the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider from opts.
func NewOpenAIProvider(opts ProviderOptions) *OpenAIProvider {
	reqOpts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		ooption.WithMaxRetries(opts.MaxRetries),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, ooption.WithBaseURL(base))
	}
	return &OpenAIProvider{client: openai.NewClient(reqOpts...)}
}

// Converse performs one chat completion.
func (p *OpenAIProvider) Converse(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("openai: missing model")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.System, req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: empty completion")
	}

	choice := completion.Choices[0]
	resp := &Response{
		Message: thread.Message{Role: thread.RoleAssistant},
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
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
	case choice.FinishReason == "length":
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return throttled("openai", err)
	}
	return err
}

func toOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(fullSchema(spec.InputSchema)),
			},
		})
	}
	return out
}

func toOpenAIMessages(system string, msgs []thread.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, openai.SystemMessage(s))
	}

	for _, m := range msgs {
		if m.Role == thread.RoleAssistant {
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := m.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, use := range m.ToolUses() {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: use.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      use.Name,
						Arguments: string(use.Input),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			continue
		}

		// Tool results must follow the assistant message as separate tool messages.
		for _, result := range m.ToolResults() {
			out = append(out, openai.ToolMessage(toolResultText(&result), result.ToolUseID))
		}
		if text := m.Text(); text != "" {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func rawArguments(args string) json.RawMessage {
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(map[string]string{"raw": args})
	return b
}
