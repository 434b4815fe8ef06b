// ABOUTME: Health, database status, model and specialist listings, usage stats, and chart handlers
// ABOUTME: Health routes are unauthenticated; the rest resolve the caller like other /api routes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/assistant-gateway/internal/auth"
	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/store"
)

const pingTimeout = 2 * time.Second

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports readiness: the store must answer a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		g.sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleDBStatus reports the store driver and whether it is reachable.
func (g *Gateway) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := map[string]any{
		"status":    "connected",
		"driver":    g.store.Driver(),
		"analytics": g.analytics != nil,
	}
	code := http.StatusOK
	if err := g.store.Ping(ctx); err != nil {
		resp["status"] = "disconnected"
		resp["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	g.sendJSON(w, code, resp)
}

// handleModels lists the configured models.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	models := g.config.Models.Available
	g.sendJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"models":  models,
		"count":   len(models),
		"default": g.config.Models.Default,
	})
}

// handleInsights lists the registered specialists and their tools.
func (g *Gateway) handleInsights(w http.ResponseWriter, r *http.Request) {
	specialists := g.registry.List()
	g.sendJSON(w, http.StatusOK, map[string]any{
		"status":      statusSuccess,
		"specialists": specialists,
		"count":       len(specialists),
	})
}

// UsageStatsResponse is the JSON response for GET /api/stats/usage.
type UsageStatsResponse struct {
	Status       string  `json:"status"`
	TotalInput   int64   `json:"total_input_tokens"`
	TotalOutput  int64   `json:"total_output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TurnCount    int64   `json:"turn_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// handleUsageStats aggregates token usage for the caller, optionally narrowed
// by thread_id, model_id, since, and until.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	since, err := queryDate(r, "since", false)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := queryDate(r, "until", true)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.UsageFilter{UserID: &userID, Since: since, Until: until}
	if v := strings.TrimSpace(r.URL.Query().Get("thread_id")); v != "" {
		filter.ThreadID = &v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("model_id")); v != "" {
		filter.ModelID = &v
	}

	stats, err := g.store.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to get usage stats", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, UsageStatsResponse{
		Status:       statusSuccess,
		TotalInput:   stats.TotalInput,
		TotalOutput:  stats.TotalOutput,
		TotalTokens:  stats.TotalTokens,
		TurnCount:    stats.TurnCount,
		AvgLatencyMS: stats.AvgLatencyMS,
	})
}

// ChartRequest is the body of POST /api/chart.
type ChartRequest struct {
	Text         string          `json:"text"`
	QueryResults json.RawMessage `json:"queryResults"`
	ThreadID     string          `json:"thread_id"`
	TurnID       string          `json:"turn_id"`
	User         string          `json:"user"`
}

// handleChart generates a chart for a turn's results and backfills it onto
// the thread when one is named.
func (g *Gateway) handleChart(w http.ResponseWriter, r *http.Request) {
	var req ChartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID := auth.ResolveUser(r.Context(), req.User)
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "user is required")
		return
	}

	chart, err := g.conversation.GenerateChart(r.Context(), &conversation.ChartRequest{
		UserID:       userID,
		ThreadID:     strings.TrimSpace(req.ThreadID),
		TurnID:       strings.TrimSpace(req.TurnID),
		Text:         req.Text,
		QueryResults: req.QueryResults,
	})
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		g.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	case errors.Is(err, conversation.ErrInvalidChart):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to generate chart", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "chart generation failed")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"chart":  chart,
	})
}
