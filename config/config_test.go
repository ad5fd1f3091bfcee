package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setTestAuth(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_TEST_MODE", "true")
	t.Setenv("AUTH0_TEST_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setTestAuth(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.PageSize != 30 || cfg.UpcomingHorizonDays != 14 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DeduperTTL != 24*time.Hour || cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	setTestAuth(t)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/gtd")
	t.Setenv("TASKS_PAGE_SIZE", "50")
	t.Setenv("UPCOMING_HORIZON_DAYS", "7")
	t.Setenv("DEDUPER_TTL", "1h")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendPostgres || cfg.PostgresDSN != "postgres://localhost/gtd" {
		t.Fatalf("backend not applied: %+v", cfg)
	}
	if cfg.PageSize != 50 || cfg.UpcomingHorizonDays != 7 || cfg.DeduperTTL != time.Hour || cfg.ListenAddr != ":7071" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	setTestAuth(t)
	path := filepath.Join(t.TempDir(), "gtd.yaml")
	if err := os.WriteFile(path, []byte("tasks_page_size: 12\nupcoming_horizon_days: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PageSize != 12 || cfg.UpcomingHorizonDays != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"page size":      {"TASKS_PAGE_SIZE": "0"},
		"horizon":        {"UPCOMING_HORIZON_DAYS": "-1"},
		"ttl":            {"DEDUPER_TTL": "soon"},
		"backend":        {"STORE_BACKEND": "sqlite"},
		"tables config":  {"STORE_BACKEND": "tables"},
		"postgres dsn":   {"STORE_BACKEND": "postgres"},
		"test secret":    {"AUTH0_TEST_SECRET": ""},
		"queue no store": {"EVENTS_QUEUE": "task-events"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setTestAuth(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoadRequiresAuth0WithoutTestMode(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "false")
	if _, err := Load(""); err == nil {
		t.Fatal("expected missing Auth0 config error")
	}
	t.Setenv("AUTH0_AUDIENCE", "https://api.example.com")
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWKSURL() != "https://tenant.example.com/.well-known/jwks.json" || cfg.Auth.Issuer() != "https://tenant.example.com/" {
		t.Fatalf("unexpected auth endpoints: %+v", cfg.Auth)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = RedisOptions("cache.example.net:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure string: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
