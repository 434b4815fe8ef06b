// ABOUTME: Specialists are data: prompt, candidate models and tools
// ABOUTME: AsTool exposes a specialist to the orchestrator as a tool returning a Payload

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/assistant-gateway/internal/thread"
)

// PayloadStatusSuccess marks a completed specialist run.
const PayloadStatusSuccess = "success"

// Payload is the tool result a specialist returns to the orchestrator. The
// turn coordinator reads the final answer, query results and chart flag from it.
type Payload struct {
	Response     string           `json:"response"`
	Messages     []thread.Message `json:"messages,omitempty"`
	QueryResults json.RawMessage  `json:"query_results"`
	ShowGraph    bool             `json:"show_graph"`
	Status       string           `json:"status"`
}

// Specialist is a sub-agent the orchestrator can delegate to.
type Specialist struct {
	Name         string
	Description  string
	SystemPrompt string
	Models       []string
	Tools        []Tool
}

var querySchema = ObjectSchema([]string{"query"}, map[string]string{
	"query": "The user's request, restated with any context the specialist needs",
})

type queryInput struct {
	Query string `json:"query"`
}

// AsTool wraps the specialist as a tool backed by d.
func (s *Specialist) AsTool(d *Dispatcher) Tool {
	return Tool{
		Name:        s.Name,
		Description: s.Description,
		InputSchema: querySchema,
		Handler: func(ctx context.Context, input json.RawMessage) (Output, error) {
			var in queryInput
			if err := json.Unmarshal(input, &in); err != nil {
				return Output{}, fmt.Errorf("%s: invalid input: %w", s.Name, err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return Output{}, errors.New(s.Name + ": query is required")
			}

			res, err := d.Invoke(ctx, &InvokeRequest{
				SystemPrompt: s.SystemPrompt,
				Input:        in.Query,
				Models:       s.Models,
				Tools:        s.Tools,
			})
			if err != nil {
				return Output{}, fmt.Errorf("%s: %w", s.Name, err)
			}

			rows := res.QueryResults
			if len(rows) == 0 {
				rows = json.RawMessage("[]")
			}
			out, err := JSONOutput(Payload{
				Response:     res.Response,
				Messages:     res.Transcript,
				QueryResults: rows,
				ShowGraph:    res.RowCount > 1,
				Status:       PayloadStatusSuccess,
			})
			if err != nil {
				return Output{}, err
			}
			out.Rows = res.QueryResults
			out.RowCount = res.RowCount
			return out, nil
		},
	}
}

// ToolNames lists the names of the specialist's tools.
func (s *Specialist) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}
