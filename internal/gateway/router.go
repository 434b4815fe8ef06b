// ABOUTME: HTTP route table and middleware chain for the assistant API
// ABOUTME: Health and metrics are open; /api routes resolve the caller first

package gateway

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/assistant-gateway/internal/auth"
)

func (g *Gateway) routes() (http.Handler, error) {
	var verifier auth.TokenVerifier
	if g.config.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		verifier = v
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured", "default_user", g.config.Auth.DefaultUser)
	}
	identify := auth.Middleware(verifier, g.config.Auth.DefaultUser)
	api := func(h http.HandlerFunc) http.Handler { return identify(h) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /db/status", g.handleDBStatus)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	mux.Handle("GET /api/threads", api(g.handleListThreads))
	mux.Handle("GET /api/threads/search", api(g.handleSearchThreads))
	mux.Handle("POST /api/thread", api(g.handleCreateThread))
	mux.Handle("GET /api/thread/{id}", api(g.handleGetThread))
	mux.Handle("DELETE /api/thread/{id}", api(g.handleDeleteThread))
	mux.Handle("GET /api/thread/{id}/export", api(g.handleExportThread))
	mux.Handle("POST /api/answer", api(g.handleAnswer))
	mux.Handle("GET /api/answer", api(g.handleAnswer))
	mux.Handle("POST /api/chart", api(g.handleChart))
	mux.Handle("GET /api/models", api(g.handleModels))
	mux.Handle("GET /api/insights", api(g.handleInsights))
	mux.Handle("GET /api/stats/usage", api(g.handleUsageStats))
	mux.Handle("GET /api/events", api(g.handleEvents))

	return g.cors(g.metrics.Middleware(mux)), nil
}

// cors answers preflight requests and tags responses for allowed origins.
// An origin list containing "*" allows any origin.
func (g *Gateway) cors(next http.Handler) http.Handler {
	origins := g.config.Server.CORSOrigins
	allowAny := slices.Contains(origins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (allowAny || slices.Contains(origins, origin))

		if allowed {
			h := w.Header()
			if allowAny {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", strings.Join([]string{
				http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
			}, ", "))
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
