// ABOUTME: Tests for the route table, CORS handling, and the metrics endpoint
// ABOUTME: Exercises routing through the full middleware chain

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutes_MethodNotAllowed(t *testing.T) {
	tg := newTestGateway(t, "", nil)

	rec := tg.do(t, http.MethodPut, "/api/threads", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_TokenRequiredOnAPIOnly(t *testing.T) {
	tg := newTestGateway(t, "auth:\n  jwt_secret: "+testJWTSecret+"\n", nil)

	rec := tg.do(t, http.MethodGet, "/api/threads", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = tg.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	tg := newTestGateway(t, `
server:
  cors_origins: ["https://app.example.com"]
`, nil)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/answer", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		tg.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	tg.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	tg := newTestGateway(t, "server:\n  cors_origins: [\"*\"]\n", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	tg.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	tg := newTestGateway(t, "metrics:\n  enabled: true\n", nil)

	rec := tg.do(t, http.MethodPost, "/api/answer", map[string]string{"human": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "assistant_turns_started_total 1")
	assert.Contains(t, body, `route="POST /api/answer"`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	tg := newTestGateway(t, "", nil)
	rec := tg.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
