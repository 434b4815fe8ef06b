// ABOUTME: Configuration loading and parsing for assistant-gateway
// ABOUTME: YAML or TOML files with .env loading, ${VAR} expansion, defaults, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultModelID is used when models.default is not set.
const DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// minJWTSecret mirrors the verifier's minimum secret length.
const minJWTSecret = 32

// Config represents the complete assistant-gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Models    ModelsConfig    `yaml:"models" toml:"models"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Turns     TurnsConfig     `yaml:"turns" toml:"turns"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses and HTTP policy.
type ServerConfig struct {
	HTTPAddr    string          `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr    string          `yaml:"grpc_addr" toml:"grpc_addr"` // empty disables the gRPC health listener
	CORSOrigins []string        `yaml:"cors_origins" toml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig bounds how often one user may start turns.
// A zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve HTTPS with the tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig selects the thread store backend.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" toml:"driver"` // sqlite | sqlite3 | postgres
	Path         string `yaml:"path" toml:"path"`
	DSN          string `yaml:"dsn" toml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
}

// AuthConfig holds caller identity configuration.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret"`
	DefaultUser string `yaml:"default_user" toml:"default_user"`
}

// ModelInfo is one entry of GET /api/models.
type ModelInfo struct {
	ID   string `yaml:"id" toml:"id" json:"id"`
	Name string `yaml:"name" toml:"name" json:"name"`
}

// ProviderConfig holds credentials for one model vendor.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key" toml:"api_key"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	MaxRetries int    `yaml:"max_retries" toml:"max_retries"`
}

// Configured reports whether the provider has credentials or an endpoint.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != "" || p.BaseURL != ""
}

// ProvidersConfig holds every supported vendor.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `yaml:"anthropic" toml:"anthropic"`
	OpenAI     ProviderConfig `yaml:"openai" toml:"openai"`
	Compatible ProviderConfig `yaml:"compatible" toml:"compatible"`
}

// ModelsConfig names the models turns and charts run on.
type ModelsConfig struct {
	Default         string          `yaml:"default" toml:"default"`
	Chart           string          `yaml:"chart" toml:"chart"`
	DefaultProvider string          `yaml:"default_provider" toml:"default_provider"` // handles ids without a provider prefix
	Available       []ModelInfo     `yaml:"available" toml:"available"`
	Providers       ProvidersConfig `yaml:"providers" toml:"providers"`
}

// AnalyticsConfig points the sales analyst at its read-only database.
type AnalyticsConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// SpecialistConfig defines a prompt-only specialist.
type SpecialistConfig struct {
	Name         string   `yaml:"name" toml:"name"`
	Description  string   `yaml:"description" toml:"description"`
	SystemPrompt string   `yaml:"system_prompt" toml:"system_prompt"`
	Models       []string `yaml:"models" toml:"models"`
}

// AgentsConfig configures the orchestrator and its specialists.
type AgentsConfig struct {
	OrchestratorPrompt string             `yaml:"orchestrator_prompt" toml:"orchestrator_prompt"`
	MaxSteps           int                `yaml:"max_steps" toml:"max_steps"`
	Temperature        *float64           `yaml:"temperature" toml:"temperature"`
	MaxTokens          int64              `yaml:"max_tokens" toml:"max_tokens"`
	Models             []string           `yaml:"models" toml:"models"` // failover order after the requested model
	Analytics          AnalyticsConfig    `yaml:"analytics" toml:"analytics"`
	Specialists        []SpecialistConfig `yaml:"specialists" toml:"specialists"`
}

// TurnsConfig holds turn timing.
type TurnsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	Timeout           time.Duration `yaml:"-" toml:"-"`
	InFlightTTL       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	TimeoutRaw           string `yaml:"timeout" toml:"timeout"`
	InFlightTTLRaw       string `yaml:"in_flight_ttl" toml:"in_flight_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
//
// A .env file next to the config and one in the working directory are
// loaded first; variables already set in the environment win. ${VAR_NAME}
// references are then expanded, the file is decoded as TOML when it ends
// in .toml and as YAML otherwise, and defaults are applied before validation.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes already-expanded config text, applies defaults and env
// overrides, and validates the result.
func Parse(text string, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if p := os.Getenv("ASSISTANT_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "localhost:8080"
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 1
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" && c.Database.Driver != "postgres" {
		c.Database.Path = "assistant.db"
	}

	if c.Auth.DefaultUser == "" {
		c.Auth.DefaultUser = "default_user"
	}

	if c.Models.Default == "" {
		c.Models.Default = DefaultModelID
	}
	if c.Models.Chart == "" {
		c.Models.Chart = c.Models.Default
	}
	if c.Models.DefaultProvider == "" {
		c.Models.DefaultProvider = "compatible"
	}
	if len(c.Models.Available) == 0 {
		c.Models.Available = []ModelInfo{{ID: c.Models.Default, Name: c.Models.Default}}
	}

	if c.Agents.MaxSteps == 0 {
		c.Agents.MaxSteps = 8
	}
	if len(c.Agents.Models) == 0 {
		c.Agents.Models = []string{c.Models.Default}
	}
	if c.Agents.Analytics.DSN != "" && c.Agents.Analytics.Driver == "" {
		c.Agents.Analytics.Driver = "sqlite"
	}

	if c.Turns.HeartbeatInterval == 0 {
		c.Turns.HeartbeatInterval = time.Second
	}
	if c.Turns.Timeout == 0 {
		c.Turns.Timeout = 5 * time.Minute
	}
	if c.Turns.InFlightTTL == 0 {
		c.Turns.InFlightTTL = 2 * c.Turns.Timeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit values must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, sqlite3, postgres", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecret {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecret)
	}

	switch c.Models.DefaultProvider {
	case "anthropic", "openai", "compatible":
	default:
		return fmt.Errorf("models.default_provider %q is not one of anthropic, openai, compatible", c.Models.DefaultProvider)
	}

	if c.Agents.MaxSteps < 0 {
		return errors.New("agents.max_steps must not be negative")
	}
	seen := make(map[string]bool)
	for i, s := range c.Agents.Specialists {
		if s.Name == "" {
			return fmt.Errorf("agents.specialists[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("agents.specialists: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Turns.HeartbeatInterval < 0 || c.Turns.Timeout < 0 || c.Turns.InFlightTTL < 0 {
		return errors.New("turns durations must not be negative")
	}
	if c.Turns.InFlightTTL < c.Turns.Timeout {
		return errors.New("turns.in_flight_ttl must be at least turns.timeout")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat_interval", cfg.Turns.HeartbeatIntervalRaw, &cfg.Turns.HeartbeatInterval},
		{"timeout", cfg.Turns.TimeoutRaw, &cfg.Turns.Timeout},
		{"in_flight_ttl", cfg.Turns.InFlightTTLRaw, &cfg.Turns.InFlightTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
