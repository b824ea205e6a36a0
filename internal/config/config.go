// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	Gemini GeminiConfig

	// RateLimitFile points at a YAML file of rate limit scopes; empty uses
	// the built-in defaults.
	RateLimitFile string

	// MaxSegmentDepth caps how deep "dig deeper" can go. Zero means no cap.
	MaxSegmentDepth int

	WorkspaceIdleTTL  time.Duration
	SnapshotRetention time.Duration
	SweepInterval     time.Duration

	// GRPCHealthPort enables the gRPC health server when non-empty.
	GRPCHealthPort string
}

// GeminiConfig selects the text-generation models.
type GeminiConfig struct {
	APIKey     string
	ChatModel  string
	TitleModel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/digdeeper.db"),
		LogLevel:    level,
		Gemini: GeminiConfig{
			APIKey:     getEnv("GEMINI_API_KEY", ""),
			ChatModel:  getEnv("GEMINI_CHAT_MODEL", "gemini-2.0-flash"),
			TitleModel: getEnv("GEMINI_TITLE_MODEL", "gemini-2.0-flash-lite"),
		},
		RateLimitFile:     getEnv("RATE_LIMIT_FILE", ""),
		MaxSegmentDepth:   getEnvInt("MAX_SEGMENT_DEPTH", 4),
		WorkspaceIdleTTL:  getEnvDuration("WORKSPACE_IDLE_TTL", 30*time.Minute),
		SnapshotRetention: getEnvDuration("SNAPSHOT_RETENTION", 30*24*time.Hour),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		GRPCHealthPort:    getEnv("GRPC_HEALTH_PORT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxSegmentDepth < 0 {
		return fmt.Errorf("MAX_SEGMENT_DEPTH must be >= 0")
	}
	if c.WorkspaceIdleTTL <= 0 {
		return fmt.Errorf("WORKSPACE_IDLE_TTL must be > 0")
	}
	if c.SnapshotRetention < 0 {
		return fmt.Errorf("SNAPSHOT_RETENTION must be >= 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.GRPCHealthPort != "" && c.GRPCHealthPort == c.Port {
		return fmt.Errorf("GRPC_HEALTH_PORT must differ from PORT")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
