// Package config provides configuration loading for the MCP Jive server.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	// Listen address for the HTTP/WebSocket transport (default ":3454")
	ListenAddr string `json:"listen_addr"`
	// Data directory for the embedded store (default "./data")
	DataDir string `json:"data_dir"`
	// Sync directory for file_to_db/db_to_file exchange (default "<data_dir>/sync")
	SyncDir string `json:"sync_dir,omitempty"`

	// Default namespace when no request source provides one
	DefaultNamespace string `json:"default_namespace"`

	// Embedding vector dimension, fixed at table creation (default 384)
	EmbeddingDim int `json:"embedding_dim"`
	// Embedding model name, passed to the embedder capability
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// Per-request timeout in milliseconds (default 30000)
	RequestTimeoutMS int `json:"request_timeout_ms"`
	// Max concurrent HTTP requests before 503 (default 100)
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
	// Max concurrent WebSocket connections (default 64)
	MaxWebSocketConns int `json:"max_websocket_conns"`

	// CORS origin whitelist; empty means allow all
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// Reject (instead of warn on) child/parent type-order violations
	StrictHierarchy bool `json:"strict_hierarchy"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:            ":3454",
		DataDir:               "./data",
		DefaultNamespace:      "default",
		EmbeddingDim:          384,
		RequestTimeoutMS:      30000,
		MaxConcurrentRequests: 100,
		MaxWebSocketConns:     64,
		LogLevel:              "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("JIVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("JIVE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("JIVE_SYNC_DIR"); v != "" {
		cfg.SyncDir = v
	}
	if v := os.Getenv("JIVE_DEFAULT_NAMESPACE"); v != "" {
		cfg.DefaultNamespace = v
	}
	if v := os.Getenv("JIVE_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("JIVE_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("JIVE_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutMS = n
		}
	}
	if v := os.Getenv("JIVE_MAX_CONCURRENT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentRequests = n
		}
	}
	if v := os.Getenv("JIVE_MAX_WEBSOCKET_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxWebSocketConns = n
		}
	}
	if v := os.Getenv("JIVE_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("JIVE_STRICT_HIERARCHY"); v != "" {
		cfg.StrictHierarchy = v == "true" || v == "1"
	}
	if v := os.Getenv("JIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.SyncDir == "" {
		cfg.SyncDir = cfg.DataDir + "/sync"
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
