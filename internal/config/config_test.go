package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.DefaultTTL != 24*time.Hour {
		t.Errorf("cache ttl = %s, want 24h", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.KeyPrefix != "swiftcheck:llm:" {
		t.Errorf("key prefix = %q", cfg.Cache.KeyPrefix)
	}

	// Default chain: two required stages, one optional.
	if len(cfg.Workflow.Chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(cfg.Workflow.Chain))
	}
	if !cfg.Workflow.Chain[0].Required || !cfg.Workflow.Chain[1].Required {
		t.Error("first two stages must be required")
	}
	if cfg.Workflow.Chain[2].Required {
		t.Error("final_approval must be optional")
	}

	// Endpoint limits mirror production.
	if got := cfg.Throttle.LimitFor("/digitize"); got.MaxRequests != 5 {
		t.Errorf("/digitize limit = %d, want 5", got.MaxRequests)
	}
	if got := cfg.Throttle.LimitFor("/nonexistent"); got.MaxRequests != 100 {
		t.Errorf("default limit = %d, want 100", got.MaxRequests)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cache:
  default_ttl: 1h
  key_prefix: "test:llm:"
throttle:
  endpoints:
    /refine:
      max_requests: 3
      window: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Cache.DefaultTTL != time.Hour {
		t.Errorf("ttl = %s", cfg.Cache.DefaultTTL)
	}
	limit := cfg.Throttle.LimitFor("/refine")
	if limit.MaxRequests != 3 || limit.Window != 30*time.Second {
		t.Errorf("limit = %+v", limit)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 70000
`)
	if _, err := Load(path); err == nil {
		t.Error("invalid port accepted")
	}

	path = writeConfig(t, `
workflow:
  chain:
    - stage: qc_review
      role: "QC Supervisor"
      required: false
`)
	if _, err := Load(path); err == nil {
		t.Error("chain without a required stage accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QCFLOW_SERVER_PORT", "7070")
	t.Setenv("QCFLOW_OBSERVABILITY_LOG_LEVEL", "debug")

	path := writeConfig(t, "server:\n  port: 8081\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env override lost: port = %d", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Observability.LogLevel)
	}
}
