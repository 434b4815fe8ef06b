// ABOUTME: Gateway orchestrator that wires the store, agents, and turn coordinator
// ABOUTME: Owns the HTTP and gRPC health servers, tailscale listeners, and shutdown order

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/builtins"
	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/metrics"
	"github.com/2389/assistant-gateway/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	tailnetGRPCPort = ":50051"
)

// Deps are the externally constructed parts of a Gateway. Tests supply a
// mock store and a scripted model; New builds the real ones from config.
type Deps struct {
	Store     store.Store
	Model     llm.Provider
	Analytics *builtins.Analytics // optional
}

// Gateway serves the assistant API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	analytics    *builtins.Analytics
	dispatcher   *agent.Dispatcher
	registry     *agent.Registry
	conversation *conversation.Service
	events       *conversation.EventBroadcaster
	metrics      *metrics.Metrics
	limiter      *userLimiter
	grpcServer   *grpc.Server
	health       *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// New opens the configured store, model providers and analytics database,
// then builds the gateway.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.Open(store.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	deps := Deps{Store: s, Model: newModelRouter(cfg, logger)}

	if a := cfg.Agents.Analytics; a.DSN != "" {
		deps.Analytics, err = builtins.OpenAnalytics(a.Driver, a.DSN)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("initializing analytics: %w", err)
		}
	}

	return NewWithDeps(cfg, deps, logger)
}

// newModelRouter registers every configured provider, plus the default
// provider even when unconfigured so that unprefixed ids resolve.
func newModelRouter(cfg *config.Config, logger *slog.Logger) *llm.Router {
	p := cfg.Models.Providers
	router := llm.NewRouter(cfg.Models.DefaultProvider)

	register := func(name string, pc config.ProviderConfig, build func(llm.ProviderOptions) llm.Provider) {
		if !pc.Configured() && name != cfg.Models.DefaultProvider {
			return
		}
		router.Register(name, build(llm.ProviderOptions{APIKey: pc.APIKey, BaseURL: pc.BaseURL, MaxRetries: pc.MaxRetries}))
	}
	register("anthropic", p.Anthropic, func(o llm.ProviderOptions) llm.Provider { return llm.NewAnthropicProvider(o) })
	register("openai", p.OpenAI, func(o llm.ProviderOptions) llm.Provider { return llm.NewOpenAIProvider(o) })
	register("compatible", p.Compatible, func(o llm.ProviderOptions) llm.Provider { return llm.NewCompatibleProvider(o) })

	logger.Info("model providers registered",
		"providers", router.Providers(),
		"default_provider", cfg.Models.DefaultProvider)
	return router
}

// NewWithDeps builds a Gateway around already constructed dependencies.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if deps.Store == nil || deps.Model == nil {
		return nil, errors.New("gateway: store and model are required")
	}

	m := metrics.New()
	events := conversation.NewEventBroadcaster(logger)

	dispatcher := agent.NewDispatcher(deps.Model, agent.Options{
		MaxSteps:    cfg.Agents.MaxSteps,
		Temperature: cfg.Agents.Temperature,
		MaxTokens:   cfg.Agents.MaxTokens,
		Recorder:    m,
	}, logger)

	registry, err := buildRegistry(cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	conv := conversation.New(deps.Store, dispatcher, conversation.Options{
		SystemPrompt: registry.OrchestratorPrompt(cfg.Agents.OrchestratorPrompt),
		Models:       cfg.Agents.Models,
		Tools:        registry.Tools(dispatcher, cfg.Agents.Models),
		ChartModels:  []string{cfg.Models.Chart},
		Timeout:      cfg.Turns.Timeout,
		InFlightTTL:  cfg.Turns.InFlightTTL,
		Events:       events,
		Recorder:     m,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		analytics:    deps.Analytics,
		dispatcher:   dispatcher,
		registry:     registry,
		conversation: conv,
		events:       events,
		metrics:      m,
		limiter:      newUserLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
		logger:       logger.With("component", "gateway"),
	}

	gw.grpcServer, gw.health = newGRPCServer()

	handler, err := gw.routes()
	if err != nil {
		return nil, err
	}
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildRegistry registers the built-in specialists and the configured
// prompt-only ones.
func buildRegistry(cfg *config.Config, deps Deps, logger *slog.Logger) (*agent.Registry, error) {
	registry := agent.NewRegistry(logger)

	if err := registry.Register(builtins.PersonalAssistant(deps.Store, nil)); err != nil {
		return nil, fmt.Errorf("registering personal assistant: %w", err)
	}
	if deps.Analytics != nil {
		if err := registry.Register(builtins.SalesAnalyst(deps.Analytics, nil)); err != nil {
			return nil, fmt.Errorf("registering sales analyst: %w", err)
		}
	}
	for _, sc := range cfg.Agents.Specialists {
		err := registry.Register(&agent.Specialist{
			Name:         sc.Name,
			Description:  sc.Description,
			SystemPrompt: sc.SystemPrompt,
			Models:       sc.Models,
		})
		if err != nil {
			return nil, fmt.Errorf("registering specialist %s: %w", sc.Name, err)
		}
	}
	return registry, nil
}

// Handler exposes the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the servers and blocks until ctx is cancelled or a server
// fails. Shutdown runs in both cases.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, g.Shutdown(shutdownCtx))
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		g.watchHealth(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// The gRPC listener is nil when no gRPC address is configured.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" || g.config.Server.GRPCAddr != "" {
			g.logger.Warn("server addresses are ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
				"grpc_addr", g.config.Server.GRPCAddr)
		}
		return g.setupTailscaleListeners(ctx)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "assistant-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens for HTTP on :80,
// :443 or Funnel, and for gRPC health on :50051.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", tailnetGRPCPort)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

func (g *Gateway) tailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests and releases resources. Running turns
// are cancelled first so their streams end with an error event, and event
// subscriptions are closed so HTTP shutdown does not wait on them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "conversation shutdown", g.conversation.Shutdown(ctx))
	g.events.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if err := g.closeResources(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (g *Gateway) closeResources() error {
	var errs []error
	if g.analytics != nil {
		errs = appendCloseError(errs, "analytics close", g.analytics.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.limiter.Close()
	return errors.Join(errs...)
}
