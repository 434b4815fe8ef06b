// ABOUTME: Tests for the answer SSE stream and the thread event feed
// ABOUTME: Covers frame shapes, status codes, rate limiting, and token auth

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/auth"
	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/progress"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// dataFrames decodes every "data:" line of an SSE body.
func dataFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &frame), "frame: %s", payload)
		frames = append(frames, frame)
	}
	return frames
}

func TestAnswer_StreamsToFinal(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "hi there", "user": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := dataFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, "heartbeat", frames[0]["type"])

	final := frames[len(frames)-1]
	assert.Equal(t, "final", final["type"])
	assert.Equal(t, "success", final["status"])
	threadID := final["thread_id"].(string)
	assert.Equal(t, threadID, rec.Header().Get("X-Thread-Id"))

	ui := final["ui_msgs"].([]any)
	require.Len(t, ui, 1)
	item := ui[0].(map[string]any)
	assert.Equal(t, "hi there", item["human"])
	assert.Equal(t, "hello", item["ai"])

	for _, f := range frames[:len(frames)-1] {
		assert.NotEqual(t, "final", f["type"], "final is the last frame")
		assert.NotEqual(t, "error", f["type"])
	}

	th, err := tg.store.GetThread(context.Background(), threadID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hi there", th.Title)
	assert.Len(t, th.UIMessages, 1)
}

func TestAnswer_GetWithQueryParams(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	th := seedThread(t, tg.store, "alice", "first question")

	rec := tg.do(t, http.MethodGet, "/api/answer?user=alice&human=follow+up&thread_id="+th.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := dataFrames(t, rec.Body.String())
	final := frames[len(frames)-1]
	assert.Equal(t, th.ID, final["thread_id"])
	assert.Len(t, final["ui_msgs"], 2)

	got, err := tg.store.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "first question", got.Title, "title kept after the first turn")
}

func TestAnswer_UnknownThreadEndsWithError(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{
		"human": "hi", "user": "alice", "thread_id": "no-such-thread",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := dataFrames(t, rec.Body.String())
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "error", last["status"])
	assert.Equal(t, "no-such-thread", last["thread_id"])
}

func TestAnswer_ModelFailureEndsWithError(t *testing.T) {
	tg := newTestGateway(t, "", func(context.Context, *llm.Request) (*llm.Response, error) {
		return nil, assert.AnError
	})

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := dataFrames(t, rec.Body.String())
	assert.Equal(t, "error", frames[len(frames)-1]["type"])
	assert.Zero(t, tg.store.SaveCount(), "a failed turn persists nothing")
}

func TestAnswer_BadRequests(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tg.do(t, http.MethodPost, "/api/answer", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/answer", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswer_TurnInFlightConflict(t *testing.T) {
	release := make(chan struct{})
	tg := newTestGateway(t, "", func(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
		select {
		case <-release:
			return llm.TextResponse("done"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	th := seedThread(t, tg.store, "alice", "first")

	turn, err := tg.conversation.StartTurn(context.Background(), &conversation.TurnRequest{
		ThreadID: th.ID, UserID: "alice", Human: "slow one",
	})
	require.NoError(t, err)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "again", "thread_id": th.ID, "user": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	var last progress.Event
	require.NoError(t, progress.Drain(context.Background(), turn.Events, 10*time.Millisecond, func(e progress.Event) error {
		last = e
		return nil
	}))
	assert.Equal(t, progress.KindFinal, last.Kind)

	rec = tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "again", "thread_id": th.ID, "user": "alice"})
	assert.Equal(t, http.StatusOK, rec.Code, "guard released after the turn")
}

func TestAnswer_RateLimited(t *testing.T) {
	tg := newTestGateway(t, `
server:
  rate_limit:
    requests_per_second: 0.5
    burst: 1
`, nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "one", "user": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "two", "user": "alice"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	rec = tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "one", "user": "bob"})
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per user")
}

func TestAnswer_TokenAuth(t *testing.T) {
	tg := newTestGateway(t, "auth:\n  jwt_secret: "+testJWTSecret+"\n", nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "hi", "user": "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/answer", strings.NewReader(`{"human":"hi","user":"mallory"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	tg.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := dataFrames(t, rec.Body.String())
	threadID := frames[len(frames)-1]["thread_id"].(string)
	_, err = tg.store.GetThread(context.Background(), threadID, "alice")
	assert.NoError(t, err, "the token's subject owns the thread, not the body user")
}

func TestEvents_StreamsThreadLifecycle(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	srv := httptest.NewServer(tg.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?user=alice", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return tg.events.SubscriberCount("alice") == 1 }, time.Second, 10*time.Millisecond)

	created := tg.do(t, http.MethodPost, "/api/thread?user=alice", nil)
	require.Equal(t, http.StatusOK, created.Code)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var eventLine, dataLine string
	timeout := time.After(2 * time.Second)
	for dataLine == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if strings.HasPrefix(line, "event: ") {
				eventLine = line
			}
			if strings.HasPrefix(line, "data: ") {
				dataLine = line
			}
		case <-timeout:
			t.Fatal("timed out waiting for thread event")
		}
	}
	assert.Equal(t, "event: created", eventLine)

	var ev conversation.ThreadEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.Equal(t, conversation.ThreadCreated, ev.Type)
	assert.NotEmpty(t, ev.ThreadID)

	cancel()
	for range lines {
	}
}
