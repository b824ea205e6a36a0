package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "MAX_SEGMENT_DEPTH", "WORKSPACE_IDLE_TTL", "GRPC_HEALTH_PORT", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/digdeeper.db")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("MAX_SEGMENT_DEPTH", "4")
	t.Setenv("WORKSPACE_IDLE_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxSegmentDepth != 4 {
		t.Errorf("expected depth 4, got %d", cfg.MaxSegmentDepth)
	}
	if cfg.WorkspaceIdleTTL != 30*time.Minute {
		t.Errorf("expected 30m idle ttl, got %v", cfg.WorkspaceIdleTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_SEGMENT_DEPTH", "2")
	t.Setenv("WORKSPACE_IDLE_TTL", "5m")
	t.Setenv("SNAPSHOT_RETENTION", "0s")
	t.Setenv("GRPC_HEALTH_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" || cfg.GRPCHealthPort != "9001" {
		t.Errorf("unexpected ports %q/%q", cfg.Port, cfg.GRPCHealthPort)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.MaxSegmentDepth != 2 || cfg.WorkspaceIdleTTL != 5*time.Minute || cfg.SnapshotRetention != 0 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad LOG_LEVEL")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Port: "8080", DBPath: "x.db", WorkspaceIdleTTL: time.Minute, SweepInterval: time.Minute}

	cases := map[string]func(c *Config){
		"empty port":         func(c *Config) { c.Port = "" },
		"empty db path":      func(c *Config) { c.DBPath = "" },
		"negative depth":     func(c *Config) { c.MaxSegmentDepth = -1 },
		"zero idle ttl":      func(c *Config) { c.WorkspaceIdleTTL = 0 },
		"negative retention": func(c *Config) { c.SnapshotRetention = -time.Second },
		"same grpc port":     func(c *Config) { c.GRPCHealthPort = "8080" },
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	c := Config{}
	if got := c.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("expected wildcard, got %v", got)
	}
	c.FrontendURL = "https://digdeeper.example"
	if got := c.AllowedOrigins(); got[0] != "https://digdeeper.example" {
		t.Errorf("expected frontend origin, got %v", got)
	}
	if c.IsDevelopment() {
		t.Error("expected production mode")
	}
}
