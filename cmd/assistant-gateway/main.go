// ABOUTME: Entry point for the assistant gateway server
// ABOUTME: Cobra subcommands serve, init, health, token, and purge share one config file

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/assistant-gateway/internal/auth"
	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/gateway"
	"github.com/2389/assistant-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _     _              _
  __ _ ___ ___(_)___| |_ __ _ _ __ | |_
 / _' / __/ __| / __| __/ _' | '_ \| __|
| (_| \__ \__ \ \__ \ || (_| | | | | |_
 \__,_|___/___/_|___/\__\__,_|_| |_|\__|
`

const (
	defaultTokenTTL  = 30 * 24 * time.Hour
	defaultPurgeAge  = 30 * 24 * time.Hour
	jwtSecretEntropy = 32
)

// getConfigPath returns the path to the gateway config file.
// Priority: ASSISTANT_CONFIG env var > XDG_CONFIG_HOME/assistant/gateway.yaml > ~/.config/assistant/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant", "gateway.yaml")
}

// getDataPath returns the assistant data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "assistant")
}

// newRootCmd builds the command tree. configPath is resolved lazily so the
// --config flag and ASSISTANT_CONFIG both apply.
func newRootCmd() *cobra.Command {
	var configPath string
	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	root := &cobra.Command{
		Use:           "assistant-gateway",
		Short:         "Enterprise assistant backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $ASSISTANT_CONFIG or ~/.config/assistant/gateway.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolve())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), resolve())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check gateway readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), resolve())
		},
	})

	var userID string
	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd.OutOrStdout(), resolve(), userID, ttl)
		},
	}
	tokenCmd.Flags().StringVar(&userID, "user", "", "user id to embed as the token subject")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	root.AddCommand(tokenCmd)

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove threads soft-deleted before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurge(cmd.Context(), resolve(), olderThan)
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", defaultPurgeAge, "minimum age of soft-deleted threads")
	root.AddCommand(purgeCmd)

	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Models.Default)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Printf("Auth:      disabled, trusting user parameter (default %q)\n", cfg.Auth.DefaultUser)
	}

	fmt.Println()

	logger.Info("starting assistant-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken issues a bearer token signed with the configured secret.
func runToken(out io.Writer, configPath, userID string, ttl time.Duration) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("--user is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid --ttl %s", ttl)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "user %s, expires %s\n", userID, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Fprintln(out, token)
	return nil
}

// runPurge hard-deletes threads soft-deleted before the cutoff.
func runPurge(ctx context.Context, configPath string, olderThan time.Duration) error {
	if olderThan < 0 {
		return fmt.Errorf("invalid --older-than %s", olderThan)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(store.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	n, err := s.PurgeDeleted(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("purging threads: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Purged %d thread(s)\n", n)
	return nil
}

func runInit(in io.Reader, defaultConfigPath string) error {
	reader := bufio.NewReader(in)

	fmt.Println("assistant-gateway configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "assistant.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Driver (sqlite/sqlite3/postgres)", store.DriverSQLite)
	var dbPath, dsn string
	if driver == store.DriverPostgres {
		dsn = prompt(reader, "Postgres DSN", "postgres://localhost/assistant?sslmode=disable")
	} else {
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	fmt.Println("\n--- Models ---")
	provider := prompt(reader, "Default provider (anthropic/openai/compatible)", "anthropic")
	model := prompt(reader, "Default model id", "anthropic/claude-sonnet-4-5")
	apiKeyVar := prompt(reader, "API key environment variable", strings.ToUpper(provider)+"_API_KEY")

	fmt.Println("\n--- Auth ---")
	var jwtSecret string
	if isYes(prompt(reader, "Require bearer tokens?", "yes")) {
		secret := make([]byte, jwtSecretEntropy)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secret)
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "assistant")
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# assistant-gateway configuration\n")
	cfg.WriteString("# Generated by assistant-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if grpcAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if dsn != "" {
		fmt.Fprintf(&cfg, "  dsn: %q\n", dsn)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("models:\n")
	fmt.Fprintf(&cfg, "  default: %q\n", model)
	fmt.Fprintf(&cfg, "  default_provider: %q\n", provider)
	cfg.WriteString("  providers:\n")
	fmt.Fprintf(&cfg, "    %s:\n", provider)
	fmt.Fprintf(&cfg, "      api_key: \"${%s}\"\n", apiKeyVar)
	cfg.WriteString("\n")

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n", jwtSecret)
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("turns:\n")
	cfg.WriteString("  heartbeat_interval: \"1s\"\n")
	cfg.WriteString("  timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  assistant-gateway serve\n")
	if jwtSecret != "" {
		fmt.Println("\nTo issue a token:")
		fmt.Printf("  assistant-gateway token --user you@example.com\n")
	}

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
