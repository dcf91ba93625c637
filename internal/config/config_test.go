package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allVars = []string{
	"HYPIXEL_API_KEY", "AH_API_KEY_FILE", "AH_API_URL", "AH_FETCH_TIMEOUT", "AH_FETCH_RPS",
	"AH_INTERVAL", "AH_DECODE_WORKERS", "AH_STORE_DRIVER", "AH_SQLITE_PATH", "AH_SQLITE_TUNING", "AH_MYSQL_DSN",
	"AH_SEEN_CACHE", "AH_SEEN_TTL", "AH_REDIS_ADDR", "AH_REDIS_PASSWORD", "AH_REDIS_DB",
	"AH_HTTP_ADDR", "AH_ADMIN_ADDR", "AH_HTTP_CORS_ORIGINS", "AH_HTTP_RATE_RPS", "AH_HTTP_RATE_BURST",
	"AH_LOG_LEVEL", "AH_LOG_FORMAT", "AH_LOG_FILE",
}

// clearEnv unsets every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.URL != "https://api.hypixel.net/v2/skyblock/auctions_ended" {
		t.Fatalf("unexpected api url: %q", cfg.API.URL)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.API.Timeout)
	}
	if cfg.Harvest.Interval != 60*time.Second {
		t.Fatalf("expected 60s interval, got %s", cfg.Harvest.Interval)
	}
	if cfg.Harvest.DecodeWorkers != 4 {
		t.Fatalf("expected 4 decode workers, got %d", cfg.Harvest.DecodeWorkers)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != "auctions.db" || cfg.Store.SQLiteTuning {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Cache.Kind != "memory" || cfg.Cache.TTL != 6*time.Hour {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.HTTP.Addr != "" || cfg.HTTP.RateRPS != 20 || cfg.HTTP.RateBurst != 40 {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.API.Key != "" {
		t.Fatalf("expected no api key by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HYPIXEL_API_KEY", " secret-key ")
	t.Setenv("AH_INTERVAL", "15s")
	t.Setenv("AH_FETCH_TIMEOUT", "5s")
	t.Setenv("AH_DECODE_WORKERS", "8")
	t.Setenv("AH_STORE_DRIVER", "MySQL")
	t.Setenv("AH_MYSQL_DSN", "user:pass@tcp(db:3306)/auctions")
	t.Setenv("AH_SEEN_CACHE", "redis")
	t.Setenv("AH_HTTP_CORS_ORIGINS", "https://a.test, https://b.test,https://a.test")
	t.Setenv("AH_LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Key != "secret-key" {
		t.Fatalf("expected trimmed key, got %q", cfg.API.Key)
	}
	if cfg.Harvest.Interval != 15*time.Second || cfg.API.Timeout != 5*time.Second {
		t.Fatalf("unexpected durations: interval=%s timeout=%s", cfg.Harvest.Interval, cfg.API.Timeout)
	}
	if cfg.Harvest.DecodeWorkers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Harvest.DecodeWorkers)
	}
	if cfg.Store.Driver != "mysql" {
		t.Fatalf("expected mysql driver, got %q", cfg.Store.Driver)
	}
	if cfg.Cache.Kind != "redis" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected cache/log: %q %q", cfg.Cache.Kind, cfg.Log.Format)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected cors origins: %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":   {"AH_STORE_DRIVER": "postgres"},
		"mysql no dsn":     {"AH_STORE_DRIVER": "mysql"},
		"unknown cache":    {"AH_SEEN_CACHE": "memcached"},
		"zero workers":     {"AH_DECODE_WORKERS": "0"},
		"bad duration":     {"AH_INTERVAL": "soon"},
		"negative timeout": {"AH_FETCH_TIMEOUT": "-1s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AH_SQLITE_PATH=/data/from-dotenv.db\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("AH_SQLITE_PATH") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.SQLitePath != "/data/from-dotenv.db" {
		t.Fatalf("expected dotenv path, got %q", cfg.Store.SQLitePath)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("HYPIXEL_API_KEY", "super-secret")
	t.Setenv("AH_REDIS_PASSWORD", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out := string(cfg.RedactedJSON()) + string(cfg.SummaryJSON())
	if strings.Contains(out, "super-secret") || strings.Contains(out, "hunter2") {
		t.Fatalf("secrets leaked: %s", out)
	}

	var summary struct {
		Config Summary `json:"config_summary"`
	}
	if err := json.Unmarshal(cfg.SummaryJSON(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Config.API.Key != "***REDACTED*** (len=12)" {
		t.Fatalf("unexpected redacted key %q", summary.Config.API.Key)
	}
}
