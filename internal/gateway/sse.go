// ABOUTME: Server-sent event handlers: the answer stream for a turn and the thread event feed
// ABOUTME: Frames are data-only JSON for answers and named events for the thread feed

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/assistant-gateway/internal/auth"
	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/progress"
)

// eventsPingInterval spaces comment lines on an idle thread event feed.
const eventsPingInterval = 30 * time.Second

// AnswerRequest is the body of POST /api/answer. GET takes the same fields
// as query parameters.
type AnswerRequest struct {
	Human    string `json:"human"`
	ThreadID string `json:"thread_id"`
	ModelID  string `json:"model_id"`
	User     string `json:"user"`
}

func parseAnswerRequest(r *http.Request) (*AnswerRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		return &AnswerRequest{
			Human:    q.Get("human"),
			ThreadID: q.Get("thread_id"),
			ModelID:  q.Get("model_id"),
			User:     q.Get("user"),
		}, nil
	}

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleAnswer starts a turn and streams its progress until the terminal event.
func (g *Gateway) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, err := parseAnswerRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := auth.ResolveUser(r.Context(), req.User)
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "user is required")
		return
	}

	if !g.limiter.Allow(userID) {
		w.Header().Set("Retry-After", strconv.Itoa(g.limiter.RetryAfter()))
		g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turn, err := g.conversation.StartTurn(r.Context(), &conversation.TurnRequest{
		ThreadID: strings.TrimSpace(req.ThreadID),
		UserID:   userID,
		Human:    req.Human,
		ModelID:  strings.TrimSpace(req.ModelID),
	})
	switch {
	case errors.Is(err, conversation.ErrEmptyInput), errors.Is(err, conversation.ErrMissingUser):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, conversation.ErrTurnInFlight):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, conversation.ErrShuttingDown):
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to start turn", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	defer g.metrics.StreamOpened()()

	setSSEHeaders(w)
	w.Header().Set("X-Thread-Id", turn.ThreadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = progress.Drain(r.Context(), turn.Events, g.config.Turns.HeartbeatInterval, func(e progress.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling %s event: %w", e.Kind, err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// The turn keeps running and persists without a listener.
		g.logger.Debug("answer stream ended early", "thread_id", turn.ThreadID, "error", err)
	}
}

// handleEvents streams the caller's thread lifecycle events until the client
// disconnects or the gateway shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.events.Subscribe(r.Context(), userID)
	defer g.events.Unsubscribe(userID, subID)
	defer g.metrics.StreamOpened()()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a named SSE event with a JSON payload.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
