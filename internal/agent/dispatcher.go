// ABOUTME: Agent dispatch facade: runs the model/tool loop with ranked model failover
// ABOUTME: Only throttling moves to the next candidate; any other failure aborts

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/thread"
)

var (
	// ErrNoModels indicates an invocation without candidate models.
	ErrNoModels = errors.New("no candidate models")

	// ErrModelsExhausted indicates every candidate model was throttled.
	ErrModelsExhausted = errors.New("all candidate models throttled")

	// ErrMaxSteps indicates the model kept calling tools past the step limit.
	ErrMaxSteps = errors.New("tool loop exceeded max steps")
)

// DefaultMaxSteps bounds model calls per invocation.
const DefaultMaxSteps = 8

// Recorder observes model and tool calls. metrics.Collectors implements it.
type Recorder interface {
	ModelCall(model string, d time.Duration, err error)
	ToolCall(tool string, err error)
	Failover(from string)
}

type nopRecorder struct{}

func (nopRecorder) ModelCall(string, time.Duration, error) {}
func (nopRecorder) ToolCall(string, error)                 {}
func (nopRecorder) Failover(string)                        {}

// Options configures a Dispatcher.
type Options struct {
	MaxSteps    int
	Temperature *float64
	MaxTokens   int64
	Recorder    Recorder
}

// Dispatcher is the single place model calls and failover happen.
type Dispatcher struct {
	model       llm.Provider
	maxSteps    int
	temperature *float64
	maxTokens   int64
	recorder    Recorder
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher over model.
func NewDispatcher(model llm.Provider, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.DefaultMaxTokens
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Dispatcher{
		model:       model,
		maxSteps:    opts.MaxSteps,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		recorder:    opts.Recorder,
		logger:      logger.With("component", "dispatcher"),
	}
}

// InvokeRequest is one agent invocation.
type InvokeRequest struct {
	SystemPrompt string
	Input        string
	Models       []string
	Tools        []Tool
	History      []thread.Message

	// Observer defaults to the one carried by ctx, if any.
	Observer Observer
}

// Result is a completed invocation.
type Result struct {
	// Response is the final assistant text.
	Response string

	// Transcript is History followed by the new user message and every
	// message produced during the invocation.
	Transcript []thread.Message

	ModelID      string
	Usage        llm.Usage
	Steps        int
	QueryResults json.RawMessage
	RowCount     int
}

// Invoke runs req against each candidate model in order until one completes.
func (d *Dispatcher) Invoke(ctx context.Context, req *InvokeRequest) (*Result, error) {
	if len(req.Models) == 0 {
		return nil, ErrNoModels
	}
	tools, specs, err := newToolSet(req.Tools)
	if err != nil {
		return nil, err
	}

	obs := req.Observer
	if obs == nil {
		obs = ObserverFromContext(ctx)
	}
	ctx = withObserver(ctx, obs)

	var lastErr error
	for i, model := range req.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := d.run(ctx, model, req, tools, specs, obs)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, llm.ErrThrottled) {
			return nil, fmt.Errorf("invoke %s: %w", model, err)
		}

		lastErr = err
		d.recorder.Failover(model)
		d.logger.Warn("model throttled, failing over",
			"model", model,
			"attempt", i+1,
			"candidates", len(req.Models),
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w (%d candidates): %w", ErrModelsExhausted, len(req.Models), lastErr)
}

func (d *Dispatcher) run(ctx context.Context, model string, req *InvokeRequest, tools toolSet, specs []llm.ToolSpec, obs Observer) (*Result, error) {
	transcript := make([]thread.Message, 0, len(req.History)+4)
	transcript = append(transcript, req.History...)
	transcript = append(transcript, thread.UserText(req.Input))

	res := &Result{ModelID: model}
	for step := 1; step <= d.maxSteps; step++ {
		start := time.Now()
		resp, err := d.model.Converse(ctx, &llm.Request{
			Model:       model,
			System:      req.SystemPrompt,
			Messages:    transcript,
			Tools:       specs,
			Temperature: d.temperature,
			MaxTokens:   d.maxTokens,
			OnText:      obs.Thinking,
		})
		d.recorder.ModelCall(model, time.Since(start), err)
		if err != nil {
			return nil, err
		}

		res.Steps = step
		res.Usage.Add(resp.Usage)
		transcript = append(transcript, resp.Message)

		uses := resp.Message.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			res.Response = resp.Message.Text()
			res.Transcript = transcript
			return res, nil
		}

		results := make([]thread.ContentBlock, 0, len(uses))
		for _, use := range uses {
			obs.ToolUse(use.Name)
			out, err := d.callTool(ctx, tools, use)
			d.recorder.ToolCall(use.Name, err)
			if err != nil {
				d.logger.Debug("tool call failed", "tool", use.Name, "error", err)
				results = append(results, thread.ToolResultBlock(use.ID, "error: "+err.Error(), true))
				continue
			}
			if len(out.Rows) > 0 {
				res.QueryResults = out.Rows
				res.RowCount = out.RowCount
			}
			results = append(results, thread.ToolResultBlock(use.ID, out.Text, false))
		}
		transcript = append(transcript, thread.Message{Role: thread.RoleUser, Content: results})
	}
	return nil, fmt.Errorf("%w (%d)", ErrMaxSteps, d.maxSteps)
}

func (d *Dispatcher) callTool(ctx context.Context, tools toolSet, use thread.ToolUse) (out Output, err error) {
	tool, ok := tools[use.Name]
	if !ok || tool.Handler == nil {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownTool, use.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", use.Name, r)
		}
	}()
	return tool.Handler(ctx, use.Input)
}
