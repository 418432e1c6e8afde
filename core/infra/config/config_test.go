package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		envHTTPAddr, envMetricsAddr, envRedisURL, envNATSURL, envBusDisabled,
		envMaxFrameBytes, envHeartbeatInterval, envHeartbeatTimeout,
		envIngestRPS, envIngestBurst, envReplayLimit, envAllowedOrigins,
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HeartbeatTimeout != defaultHeartbeatTimeout {
		t.Fatalf("expected default heartbeat timeout, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.MaxFrameBytes != defaultMaxFrameBytes {
		t.Fatalf("expected default frame limit, got %d", cfg.MaxFrameBytes)
	}
	if cfg.BusDisabled {
		t.Fatal("bus must default to enabled")
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no origin list, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envHTTPAddr, ":9999")
	t.Setenv(envBusDisabled, "true")
	t.Setenv(envHeartbeatTimeout, "90s")
	t.Setenv(envIngestRPS, "10")
	t.Setenv(envAllowedOrigins, "https://a.example.com, https://b.example.com")
	t.Setenv(envMaxFrameBytes, "bogus")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("expected override, got %q", cfg.HTTPAddr)
	}
	if !cfg.BusDisabled {
		t.Fatal("expected bus disabled")
	}
	if cfg.HeartbeatTimeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.IngestRPS != 10 {
		t.Fatalf("expected rps 10, got %d", cfg.IngestRPS)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	// Unparseable numbers fall back to defaults.
	if cfg.MaxFrameBytes != defaultMaxFrameBytes {
		t.Fatalf("expected fallback frame limit, got %d", cfg.MaxFrameBytes)
	}
}

func TestLoadStaticKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	content := `keys:
  - key: dev-key
    key_id: K1
    org_id: ORG1
    org_slug: acme
    user_id: U1
    scopes: [decisions, dlq]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write keys file: %v", err)
	}
	keys, err := LoadStaticKeys(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "dev-key" || keys[0].OrgID != "ORG1" || len(keys[0].Scopes) != 2 {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestLoadStaticKeysValidation(t *testing.T) {
	keys, err := LoadStaticKeys("")
	if err != nil || keys != nil {
		t.Fatalf("empty path must be a no-op, got %v %v", keys, err)
	}
	if _, err := LoadStaticKeys(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}

	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, []byte("keys:\n  - key: dev-key\n    user_id: U1\n"), 0o600); err != nil {
		t.Fatalf("write keys file: %v", err)
	}
	if _, err := LoadStaticKeys(path); err == nil {
		t.Fatal("expected org_id required error")
	}
}
