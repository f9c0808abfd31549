package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Backend != BackendMemory {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("logging defaults = %q %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KISSFS_LISTEN_ADDR", ":9999")
	t.Setenv("KISSFS_BACKEND", BackendLocal)
	t.Setenv("KISSFS_ROOT", "/tmp/data")
	t.Setenv("KISSFS_READ_RETRIES", "5")
	t.Setenv("KISSFS_CORRELATION_WINDOW", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.Root != "/tmp/data" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ReadRetries != 5 || cfg.CorrelationWindow != 2*time.Second {
		t.Fatalf("tuning = %d %s", cfg.ReadRetries, cfg.CorrelationWindow)
	}
}

func TestLocalBackendRequiresRoot(t *testing.T) {
	t.Setenv("KISSFS_BACKEND", BackendLocal)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for local backend without root")
	}
}

func TestUnknownBackendRejected(t *testing.T) {
	t.Setenv("KISSFS_BACKEND", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kissfs.yaml")
	data := []byte("listen_addr: \":7000\"\nbackend: redis\nredis_addr: \"redis:6379\"\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KISSFS_CONFIG", path)
	t.Setenv("KISSFS_LISTEN_ADDR", ":7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7001" {
		t.Fatalf("env should win over file, got %q", cfg.ListenAddr)
	}
	if cfg.Backend != BackendRedis || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("file values lost: %+v", cfg)
	}
}
