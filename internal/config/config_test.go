package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"BACKEND", "HASURA_URL", "HASURA_ROLE", "DATABASE_URL", "REDIS_URL",
	"MAILJET_API_KEY", "MAILJET_SECRET_KEY", "PORT", "COUNT_TTL",
	"RATE_LIMIT_MAIL", "LOG_LEVEL", "TRUST_PROXY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HASURA_URL", "https://hasura.example/v1/graphql")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Backend != BackendHasura || cfg.HasuraRole != "universal-comments" {
		t.Fatalf("unexpected backend settings: %+v", cfg)
	}
	if cfg.Port != "8080" || cfg.CountTTL != 60*time.Second || cfg.RateLimitMail != 30 || cfg.TrustProxy {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnvReportsAllMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILJET_API_KEY", "key")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"HASURA_URL", "MAILJET_SECRET_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error should mention %s: %v", want, err)
		}
	}
}

func TestFromEnvPostgresAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/comments")
	t.Setenv("COUNT_TTL", "90s")
	t.Setenv("RATE_LIMIT_MAIL", "not-a-number")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Backend != BackendPostgres || cfg.DatabaseURL == "" {
		t.Fatalf("unexpected backend: %+v", cfg)
	}
	if cfg.CountTTL != 90*time.Second || cfg.RateLimitMail != 30 {
		t.Fatalf("unexpected overrides: ttl=%v rate=%d", cfg.CountTTL, cfg.RateLimitMail)
	}
	if !cfg.TrustProxy {
		t.Fatalf("expected TRUST_PROXY to be honoured")
	}
}

func TestFromEnvUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND", "mongo")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("BACKEND")
	os.Unsetenv("PORT")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BACKEND=memory\nPORT=9090\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.Port != "9090" {
		t.Fatalf("expected values from .env, got %+v", cfg)
	}
}
