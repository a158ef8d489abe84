package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigPath, "LOG_LEVEL", "CATALOG_PATH", "CATALOG_BASE_DIR", "DEFAULT_BRAND",
		"HTTP_ADDR", "GRPC_ADDR", "SHUTDOWN_TIMEOUT", "JWT_SECRET", "JWT_AUDIENCE",
		"DATABASE_DSN", "REDIS_ADDR", "CACHE_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" || cfg.Catalog.DefaultBrand != "IKEA" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	ttl, err := cfg.CacheTTL()
	if err != nil || ttl != 10*time.Minute {
		t.Fatalf("unexpected cache ttl %v, %v", ttl, err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "scandish.toml")
	content := `
log_level = "debug"

[catalog]
manifest_path = "/srv/catalog.json"

[storage]
redis_addr = "cache:6379"
cache_ttl = "1m"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	t.Setenv("REDIS_ADDR", "override:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Catalog.ManifestPath != "/srv/catalog.json" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Storage.RedisAddr != "override:6379" {
		t.Fatalf("env override not applied: %q", cfg.Storage.RedisAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for explicit missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("unknown_key = 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected error for unknown key")
	}

	t.Setenv("CACHE_TTL", "-5s")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestLoadIgnoresMissingEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "absent.toml"))

	if _, err := Load(""); err != nil {
		t.Fatalf("expected defaults when env file is absent, got %v", err)
	}
}
