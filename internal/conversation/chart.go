// ABOUTME: Chart generation for a turn's query results and graph_code backfill
// ABOUTME: The chart model returns an ApexCharts definition stored on the matching ChatItem

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/assistant-gateway/internal/agent"
)

// ErrInvalidChart indicates the chart model did not return a JSON object.
var ErrInvalidChart = errors.New("chart model returned invalid JSON")

// ErrTurnNotFound indicates no ChatItem matched the backfill request.
var ErrTurnNotFound = errors.New("turn not found in thread")

const chartPrompt = `You are a data visualization expert. Based on the data and analysis you are given, suggest the most appropriate chart type and configuration.

Reply with only a JSON object of this shape:
{
  "chart_type": "line|bar|pie|scatter|area|etc",
  "caption": "Brief description of what the chart shows",
  "rationale": "Brief explanation of why this chart type is appropriate",
  "chart_configuration": {
    "options": {},
    "series": []
  }
}

chart_configuration holds ApexCharts options and series. Do not generate formatter functions; they cannot be parsed as JSON.`

// ChartRequest asks for a chart of one turn's results.
type ChartRequest struct {
	UserID       string
	ThreadID     string
	TurnID       string
	Text         string
	QueryResults json.RawMessage
}

// Chart is a generated chart definition.
type Chart struct {
	ChartType          string          `json:"chart_type"`
	Caption            string          `json:"caption"`
	Rationale          string          `json:"rationale"`
	ChartConfiguration json.RawMessage `json:"chart_configuration"`

	// Raw is the cleaned JSON as returned by the model.
	Raw string `json:"-"`

	// Backfilled is true when graph_code was stored on the thread.
	Backfilled bool `json:"-"`
}

// GenerateChart asks the chart model for a chart and, when req names a
// thread, stores it as the matching turn's graph_code. A failed backfill is
// logged and does not fail the request.
func (s *Service) GenerateChart(ctx context.Context, req *ChartRequest) (*Chart, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyInput
	}

	input := fmt.Sprintf("User query: %s\n\nData results:\n%s", req.Text, string(req.QueryResults))
	res, err := s.invoker.Invoke(agent.WithUserID(ctx, req.UserID), &agent.InvokeRequest{
		SystemPrompt: chartPrompt,
		Input:        input,
		Models:       s.opts.ChartModels,
	})
	if err != nil {
		return nil, fmt.Errorf("generating chart: %w", err)
	}

	chart, err := parseChart(res.Response)
	if err != nil {
		return nil, err
	}

	if req.ThreadID != "" {
		if err := s.BackfillChart(ctx, req.UserID, req.ThreadID, req.TurnID, req.Text, chart.Raw); err != nil {
			s.logger.Warn("chart backfill failed",
				"thread_id", req.ThreadID,
				"turn_id", req.TurnID,
				"error", err)
		} else {
			chart.Backfilled = true
		}
	}
	return chart, nil
}

// BackfillChart sets graph_code on the turn matching turnID, or on the most
// recent turn whose human text matches when turnID is empty.
func (s *Service) BackfillChart(ctx context.Context, userID, threadID, turnID, human, code string) error {
	key := guardKey(userID, threadID)
	if s.guard.CheckAndMark(key) {
		return ErrTurnInFlight
	}
	defer s.guard.Release(key)

	th, err := s.store.GetThread(ctx, threadID, userID)
	if err != nil {
		return err
	}

	next := th.Clone()
	if !next.SetGraphCode(next.FindTurn(turnID, human), code) {
		return ErrTurnNotFound
	}
	if err := s.store.SaveThread(ctx, next, false); err != nil {
		return fmt.Errorf("saving chart: %w", err)
	}

	s.publish(userID, ThreadEvent{
		Type:         ThreadUpdated,
		ThreadID:     next.ID,
		Title:        next.Title,
		MessageCount: next.MessageCount(),
	})
	return nil
}

// parseChart strips code fences and surrounding prose, then decodes the
// outermost JSON object.
func parseChart(text string) (*Chart, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrInvalidChart
	}
	raw := text[start : end+1]

	var c Chart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}
	c.Raw = raw
	return &c, nil
}
