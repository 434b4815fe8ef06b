// ABOUTME: HTTP handlers for thread listing, lookup, creation, deletion, and export
// ABOUTME: Every thread route is scoped to the caller resolved by the auth middleware

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
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/thread"
)

const (
	statusSuccess = "success"

	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
	maxSearchLimit  = 200

	// newThreadTitle is the title of an explicitly created, still empty thread.
	newThreadTitle = "New Chat 1"

	dateLayout = "2006-01-02"
)

// ThreadSummaryResponse is one entry of GET /api/threads.
type ThreadSummaryResponse struct {
	ThreadID     string `json:"thread_id"`
	Title        string `json:"thread_title"`
	UserID       string `json:"user_id"`
	Date         string `json:"date"`
	Created      string `json:"created"`
	MessageCount int    `json:"message_count"`
}

// ListThreadsResponse is the JSON response for GET /api/threads.
type ListThreadsResponse struct {
	Status   string                  `json:"status"`
	Threads  []ThreadSummaryResponse `json:"threads"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	Total    int                     `json:"total"`
}

// ThreadResponse is the JSON response for a single thread. Its shape
// matches the final SSE event so clients can share rendering code.
type ThreadResponse struct {
	ThreadID   string            `json:"thread_id"`
	Title      string            `json:"thread_title"`
	Type       string            `json:"type"`
	UIMessages []thread.ChatItem `json:"ui_msgs"`
	Status     string            `json:"status"`
}

func threadResponse(t *thread.Thread) ThreadResponse {
	ui := t.UIMessages
	if ui == nil {
		ui = []thread.ChatItem{}
	}
	return ThreadResponse{
		ThreadID:   t.ID,
		Title:      t.Title,
		Type:       "final",
		UIMessages: ui,
		Status:     statusSuccess,
	}
}

func summaryResponses(summaries []store.ThreadSummary) []ThreadSummaryResponse {
	out := make([]ThreadSummaryResponse, len(summaries))
	for i, s := range summaries {
		out[i] = ThreadSummaryResponse{
			ThreadID:     s.ThreadID,
			Title:        s.Title,
			UserID:       s.UserID,
			Date:         s.UpdatedAt.Format(dateLayout),
			Created:      s.CreatedAt.Format(dateLayout),
			MessageCount: s.MessageCount,
		}
	}
	return out
}

// callerID returns the resolved user id, writing a 401 when there is none.
func (g *Gateway) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.ResolveUser(r.Context(), "")
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "user is required")
		return "", false
	}
	return userID, true
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

// queryDate parses an optional YYYY-MM-DD query parameter. endOfDay moves
// the result to the last instant of that day.
func queryDate(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a date in YYYY-MM-DD format", name)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return &d, nil
}

// handleListThreads handles GET /api/threads?page&page_size.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", defaultPage)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize = min(pageSize, maxPageSize)

	summaries, err := g.store.ListThreadsForOwner(r.Context(), userID, page, pageSize)
	if err != nil {
		g.logger.Error("failed to list threads", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	total, err := g.store.CountThreads(r.Context(), userID)
	if err != nil {
		g.logger.Error("failed to count threads", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, ListThreadsResponse{
		Status:   statusSuccess,
		Threads:  summaryResponses(summaries),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

// handleSearchThreads handles GET /api/threads/search?q&from&to&limit.
func (g *Gateway) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	from, err := queryDate(r, "from", false)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryDate(r, "to", true)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := g.store.SearchThreads(r.Context(), store.SearchParams{
		UserID:        userID,
		TitleContains: strings.TrimSpace(r.URL.Query().Get("q")),
		From:          from,
		To:            to,
		Limit:         min(limit, maxSearchLimit),
	})
	if err != nil {
		g.logger.Error("failed to search threads", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	threads := summaryResponses(summaries)
	g.sendJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"threads": threads,
		"count":   len(threads),
	})
}

// handleCreateThread handles POST /api/thread. The body is optional.
func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User  string `json:"user"`
		Title string `json:"thread_title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	userID := auth.ResolveUser(r.Context(), body.User)
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "user is required")
		return
	}

	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = newThreadTitle
	}
	t := thread.New(title, userID)

	if err := g.store.SaveThread(r.Context(), t, true); err != nil {
		g.logger.Error("failed to create thread", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.events.Publish(userID, conversation.ThreadEvent{
		Type:     conversation.ThreadCreated,
		ThreadID: t.ID,
		Title:    t.Title,
	})
	g.sendJSON(w, http.StatusOK, threadResponse(t))
}

// handleGetThread handles GET /api/thread/{id}.
func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	t, err := g.store.GetThread(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get thread", "thread_id", r.PathValue("id"), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, threadResponse(t))
}

// handleDeleteThread handles DELETE /api/thread/{id} as a soft delete.
func (g *Gateway) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}
	threadID := r.PathValue("id")

	err := g.store.DeleteThread(r.Context(), threadID, userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete thread", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.events.Publish(userID, conversation.ThreadEvent{
		Type:     conversation.ThreadDeleted,
		ThreadID: threadID,
	})
	g.sendJSON(w, http.StatusOK, map[string]string{
		"status":    statusSuccess,
		"thread_id": threadID,
	})
}

// handleExportThread handles GET /api/thread/{id}/export?format=md|html.
func (g *Gateway) handleExportThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerID(w, r)
	if !ok {
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		g.sendJSONError(w, http.StatusBadRequest, "format must be md or html")
		return
	}

	t, err := g.store.GetThread(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get thread for export", "thread_id", r.PathValue("id"), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	md := exportMarkdown(t)
	if format == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, t.ID))
		_, _ = w.Write([]byte(md))
		return
	}

	page, err := exportHTML(t.Title, md)
	if err != nil {
		g.logger.Error("failed to render export", "thread_id", t.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
