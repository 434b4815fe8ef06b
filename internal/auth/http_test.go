// ABOUTME: Tests for the HTTP identity middleware
// ABOUTME: Covers token mode, trusted mode, and body-field resolution

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWith(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestMiddleware_TokenMode(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	mw := Middleware(verifier, "default_user")

	req := httptest.NewRequest(http.MethodGet, "/api/threads?user=mallory", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, id := serveWith(t, mw, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.UserID, "query param never overrides a token")
	assert.True(t, id.Authenticated())
}

func TestMiddleware_TokenModeRejects(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate("alice", -time.Minute)

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic YWxpY2U6cHc=", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, id := serveWith(t, Middleware(verifier, "default_user"), req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, id, "handler must not run")
			assert.JSONEq(t, `{"error":"`+tt.msg+`"}`, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestMiddleware_TrustedMode(t *testing.T) {
	mw := Middleware(nil, "default_user")

	rec, id := serveWith(t, mw, httptest.NewRequest(http.MethodGet, "/api/threads?user=bob", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, &Identity{UserID: "bob", Source: SourceQuery}, id)

	_, id = serveWith(t, mw, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	assert.Equal(t, &Identity{UserID: "default_user", Source: SourceDefault}, id)
	assert.False(t, id.Authenticated())
}

func TestResolveUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()

	assert.Equal(t, "", ResolveUser(ctx, ""))
	assert.Equal(t, "carol", ResolveUser(ctx, "carol"))

	trusted := WithIdentity(ctx, &Identity{UserID: "default_user", Source: SourceDefault})
	assert.Equal(t, "default_user", ResolveUser(trusted, ""))
	assert.Equal(t, "carol", ResolveUser(trusted, "carol"))

	verified := WithIdentity(ctx, &Identity{UserID: "alice", Source: SourceToken})
	assert.Equal(t, "alice", ResolveUser(verified, "carol"))
}
