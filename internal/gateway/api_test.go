// ABOUTME: Tests for thread, model, insight, usage, chart, and health HTTP handlers
// ABOUTME: Requests go through the full route table with trusted user resolution

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/thread"
)

// seedThread stores a thread with one completed turn per human message.
func seedThread(t *testing.T, st *store.MockStore, userID string, humans ...string) *thread.Thread {
	t.Helper()
	th := thread.New(humans[0], userID)
	for _, h := range humans {
		th.AppendUITurn(h, "answer to "+h, json.RawMessage(`[{"region":"east","total":3}]`), true, thread.Usage{})
	}
	require.NoError(t, st.SaveThread(context.Background(), th, true))
	return th
}

func TestHealthEndpoints(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeJSON(t, rec)["status"])

	rec = tg.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(t, http.MethodGet, "/db/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "mock", body["driver"])

	tg.store.PingErr = assert.AnError
	rec = tg.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = tg.do(t, http.MethodGet, "/db/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disconnected", decodeJSON(t, rec)["status"])
}

func TestListThreads(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	for i := 0; i < 3; i++ {
		seedThread(t, tg.store, "alice", "question")
	}
	seedThread(t, tg.store, "bob", "bob's question")

	rec := tg.do(t, http.MethodGet, "/api/threads?user=alice&page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListThreadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, statusSuccess, resp.Status)
	assert.Len(t, resp.Threads, 2)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 2, resp.PageSize)
	for _, s := range resp.Threads {
		assert.Equal(t, "alice", s.UserID)
		assert.Equal(t, 1, s.MessageCount)
		assert.Len(t, s.Date, len("2006-01-02"))
	}

	rec = tg.do(t, http.MethodGet, "/api/threads?user=alice&page=2&page_size=2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Threads, 1)
}

func TestListThreads_DefaultUserAndBadPaging(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	seedThread(t, tg.store, "default_user", "hello")

	rec := tg.do(t, http.MethodGet, "/api/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListThreadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, defaultPageSize, resp.PageSize)

	for _, q := range []string{"page=0", "page=abc", "page_size=-1"} {
		rec := tg.do(t, http.MethodGet, "/api/threads?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSearchThreads(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	seedThread(t, tg.store, "alice", "Quarterly revenue")
	seedThread(t, tg.store, "alice", "Team offsite")

	rec := tg.do(t, http.MethodGet, "/api/threads/search?user=alice&q=revenue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = tg.do(t, http.MethodGet, "/api/threads/search?user=alice&from=2000-01-01&to=2999-12-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeJSON(t, rec)["count"])

	rec = tg.do(t, http.MethodGet, "/api/threads/search?user=alice&from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGetDeleteThread(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodPost, "/api/thread", map[string]string{"user": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var created ThreadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ThreadID)
	assert.Equal(t, newThreadTitle, created.Title)
	assert.Equal(t, "final", created.Type)
	assert.Empty(t, created.UIMessages)
	assert.Contains(t, rec.Body.String(), `"ui_msgs":[]`)

	rec = tg.do(t, http.MethodGet, "/api/thread/"+created.ThreadID+"?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/thread/"+created.ThreadID+"?user=mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Thread not found", decodeJSON(t, rec)["error"])

	rec = tg.do(t, http.MethodDelete, "/api/thread/"+created.ThreadID+"?user=mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tg.do(t, http.MethodDelete, "/api/thread/"+created.ThreadID+"?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/thread/"+created.ThreadID+"?user=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tg.do(t, http.MethodDelete, "/api/thread/"+created.ThreadID+"?user=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "second delete finds nothing")
}

func TestCreateThread_PublishesEvent(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	events, _ := tg.events.Subscribe(t.Context(), "alice")

	rec := tg.do(t, http.MethodPost, "/api/thread?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ev := <-events
	assert.Equal(t, "created", string(ev.Type))
	assert.Equal(t, newThreadTitle, ev.Title)
}

func TestGetThread_ReturnsChatItems(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	th := seedThread(t, tg.store, "alice", "sales by region")

	rec := tg.do(t, http.MethodGet, "/api/thread/"+th.ID+"?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ThreadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.UIMessages, 1)
	assert.Equal(t, "sales by region", resp.UIMessages[0].Human)
	assert.Equal(t, "answer to sales by region", resp.UIMessages[0].AI)
	assert.True(t, resp.UIMessages[0].ShowGraph)
	assert.JSONEq(t, `[{"region":"east","total":3}]`, string(resp.UIMessages[0].QueryResults))
}

func TestExportThread(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	th := seedThread(t, tg.store, "alice", "sales by region")

	rec := tg.do(t, http.MethodGet, "/api/thread/"+th.ID+"/export?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	md := rec.Body.String()
	assert.Contains(t, md, "# sales by region")
	assert.Contains(t, md, "answer to sales by region")
	assert.Contains(t, md, `"region": "east"`)

	rec = tg.do(t, http.MethodGet, "/api/thread/"+th.ID+"/export?user=alice&format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>sales by region</h1>")
	assert.Contains(t, rec.Body.String(), "<title>sales by region</title>")

	rec = tg.do(t, http.MethodGet, "/api/thread/"+th.ID+"/export?user=alice&format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/thread/"+th.ID+"/export?user=bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportHTML_DropsRawHTML(t *testing.T) {
	page, err := exportHTML("t", "hello <script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, string(page), "<script>")
}

func TestModelsAndInsights(t *testing.T) {
	tg := newTestGateway(t, `
models:
  default: claude-a
  available:
    - id: claude-a
      name: Claude A
    - id: gpt-b
      name: GPT B
`, nil)

	rec := tg.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, "claude-a", body["default"])

	rec = tg.do(t, http.MethodGet, "/api/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"personal_assistant"`)
	assert.Contains(t, rec.Body.String(), `"task_add"`)
}

func TestUsageStats(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	ctx := context.Background()
	require.NoError(t, tg.store.SaveUsage(ctx, &store.TurnUsage{
		ThreadID: "th-1", UserID: "alice", ModelID: "m", InputTokens: 100, OutputTokens: 20, LatencyMS: 50,
	}))
	require.NoError(t, tg.store.SaveUsage(ctx, &store.TurnUsage{
		ThreadID: "th-2", UserID: "bob", ModelID: "m", InputTokens: 7, OutputTokens: 3, LatencyMS: 10,
	}))

	rec := tg.do(t, http.MethodGet, "/api/stats/usage?user=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UsageStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 100, resp.TotalInput)
	assert.EqualValues(t, 120, resp.TotalTokens)
	assert.EqualValues(t, 1, resp.TurnCount)

	rec = tg.do(t, http.MethodGet, "/api/stats/usage?user=alice&since=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChart(t *testing.T) {
	chartJSON := `{"chart_type":"bar","caption":"Totals","rationale":"categories","chart_configuration":{"options":{},"series":[]}}`
	tg := newTestGateway(t, "", func(context.Context, *llm.Request) (*llm.Response, error) {
		return llm.TextResponse("```json\n" + chartJSON + "\n```"), nil
	})
	th := seedThread(t, tg.store, "alice", "sales by region")

	rec := tg.do(t, http.MethodPost, "/api/chart", map[string]any{
		"text":         "sales by region",
		"queryResults": []map[string]any{{"region": "east", "total": 3}},
		"thread_id":    th.ID,
		"turn_id":      th.UIMessages[0].TurnID,
		"user":         "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	assert.Equal(t, statusSuccess, body["status"])
	chart := body["chart"].(map[string]any)
	assert.Equal(t, "bar", chart["chart_type"])

	got, err := tg.store.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, chartJSON, got.UIMessages[0].GraphCode)
}

func TestChart_Errors(t *testing.T) {
	tg := newTestGateway(t, "", func(context.Context, *llm.Request) (*llm.Response, error) {
		return llm.TextResponse("no chart for you"), nil
	})

	rec := tg.do(t, http.MethodPost, "/api/chart", map[string]any{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tg.do(t, http.MethodPost, "/api/chart", map[string]any{"text": "sales"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = tg.do(t, http.MethodPost, "/api/chart", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
