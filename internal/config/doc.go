// Package config handles configuration loading for assistant-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the ASSISTANT_CONFIG environment variable
//  2. ~/.config/assistant/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment
//
// Before the file is read, a .env file beside it and one in the working
// directory are loaded. Variables already present in the environment are
// not overwritten. Values can then reference the environment:
//
//	models:
//	  providers:
//	    anthropic:
//	      api_key: "${ANTHROPIC_API_KEY}"
//
// Only the braced ${VAR_NAME} form is expanded; unset variables expand to "".
// ASSISTANT_DB_PATH overrides database.path.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	turns:
//	  heartbeat_interval: "1s"
//	  timeout: "5m"
//	  in_flight_ttl: "10m"
//
// # Defaults
//
// An empty file is a working development config: HTTP on localhost:8080,
// SQLite at ./assistant.db, trusted mode with user "default_user", and
// DefaultModelID served by the OpenAI-compatible provider.
package config
