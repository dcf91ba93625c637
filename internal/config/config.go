package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	API     APIConfig
	Harvest HarvestConfig
	Store   StoreConfig
	Cache   CacheConfig
	HTTP    HTTPConfig
	Log     LogConfig
}

type APIConfig struct {
	Key     string        `envconfig:"HYPIXEL_API_KEY"`
	KeyFile string        `envconfig:"AH_API_KEY_FILE"`
	URL     string        `envconfig:"AH_API_URL" default:"https://api.hypixel.net/v2/skyblock/auctions_ended"`
	Timeout time.Duration `envconfig:"AH_FETCH_TIMEOUT" default:"30s"`
	RPS     float64       `envconfig:"AH_FETCH_RPS" default:"0"`
}

type HarvestConfig struct {
	Interval      time.Duration `envconfig:"AH_INTERVAL" default:"60s"`
	DecodeWorkers int           `envconfig:"AH_DECODE_WORKERS" default:"4"`
}

type StoreConfig struct {
	Driver     string `envconfig:"AH_STORE_DRIVER" default:"sqlite"`
	SQLitePath   string `envconfig:"AH_SQLITE_PATH" default:"auctions.db"`
	SQLiteTuning bool   `envconfig:"AH_SQLITE_TUNING" default:"false"`
	MySQLDSN     string `envconfig:"AH_MYSQL_DSN"`
}

type CacheConfig struct {
	Kind          string        `envconfig:"AH_SEEN_CACHE" default:"memory"`
	TTL           time.Duration `envconfig:"AH_SEEN_TTL" default:"6h"`
	RedisAddr     string        `envconfig:"AH_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"AH_REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"AH_REDIS_DB" default:"0"`
}

type HTTPConfig struct {
	Addr        string   `envconfig:"AH_HTTP_ADDR"`
	AdminAddr   string   `envconfig:"AH_ADMIN_ADDR"`
	CORSOrigins []string `envconfig:"AH_HTTP_CORS_ORIGINS"`
	RateRPS     int      `envconfig:"AH_HTTP_RATE_RPS" default:"20"`
	RateBurst   int      `envconfig:"AH_HTTP_RATE_BURST" default:"40"`
}

type LogConfig struct {
	Level  string `envconfig:"AH_LOG_LEVEL" default:"info"`
	Format string `envconfig:"AH_LOG_FORMAT" default:"console"`
	File   string `envconfig:"AH_LOG_FILE"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.API.Key = strings.TrimSpace(c.API.Key)
	c.API.KeyFile = strings.TrimSpace(c.API.KeyFile)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Cache.Kind = strings.ToLower(strings.TrimSpace(c.Cache.Kind))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.HTTP.CORSOrigins = splitList(c.HTTP.CORSOrigins)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("config: AH_SQLITE_PATH is empty")
		}
	case "mysql":
		if strings.TrimSpace(c.Store.MySQLDSN) == "" {
			return fmt.Errorf("config: AH_STORE_DRIVER=mysql requires AH_MYSQL_DSN")
		}
	default:
		return fmt.Errorf("config: unknown AH_STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Cache.Kind {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("config: unknown AH_SEEN_CACHE %q", c.Cache.Kind)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown AH_LOG_FORMAT %q", c.Log.Format)
	}
	if c.Harvest.Interval <= 0 {
		return fmt.Errorf("config: AH_INTERVAL must be positive")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("config: AH_FETCH_TIMEOUT must be positive")
	}
	if c.Harvest.DecodeWorkers < 1 {
		return fmt.Errorf("config: AH_DECODE_WORKERS must be at least 1")
	}
	return nil
}

func splitList(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (c Config) Summary() Summary {
	return Summary{
		API: APISummary{
			URL:     c.API.URL,
			Key:     redactString(c.API.Key),
			KeyFile: c.API.KeyFile,
			Timeout: c.API.Timeout.String(),
			RPS:     c.API.RPS,
		},
		Interval:      c.Harvest.Interval.String(),
		DecodeWorkers: c.Harvest.DecodeWorkers,
		Store:         c.Store.Driver,
		SQLitePath:    c.Store.SQLitePath,
		MySQLDSN:      redactString(c.Store.MySQLDSN),
		SeenCache:     c.Cache.Kind,
		HTTPAddr:      c.HTTP.Addr,
		AdminAddr:     c.HTTP.AdminAddr,
	}
}

type Summary struct {
	API           APISummary `json:"api"`
	Interval      string     `json:"interval"`
	DecodeWorkers int        `json:"decode_workers"`
	Store         string     `json:"store"`
	SQLitePath    string     `json:"sqlite_path,omitempty"`
	MySQLDSN      string     `json:"mysql_dsn,omitempty"`
	SeenCache     string     `json:"seen_cache"`
	HTTPAddr      string     `json:"http_addr,omitempty"`
	AdminAddr     string     `json:"admin_addr,omitempty"`
}

type APISummary struct {
	URL     string  `json:"url"`
	Key     string  `json:"key,omitempty"`
	KeyFile string  `json:"key_file,omitempty"`
	Timeout string  `json:"timeout"`
	RPS     float64 `json:"rps,omitempty"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"api": map[string]any{
			"url":      c.API.URL,
			"key":      redactString(c.API.Key),
			"key_file": c.API.KeyFile,
			"timeout":  c.API.Timeout.String(),
			"rps":      c.API.RPS,
		},
		"harvest": map[string]any{
			"interval":       c.Harvest.Interval.String(),
			"decode_workers": c.Harvest.DecodeWorkers,
		},
		"store": map[string]any{
			"driver":        c.Store.Driver,
			"sqlite_path":   c.Store.SQLitePath,
			"sqlite_tuning": c.Store.SQLiteTuning,
			"mysql_dsn":     redactString(c.Store.MySQLDSN),
		},
		"cache": map[string]any{
			"kind":           c.Cache.Kind,
			"ttl":            c.Cache.TTL.String(),
			"redis_addr":     c.Cache.RedisAddr,
			"redis_password": redactString(c.Cache.RedisPassword),
			"redis_db":       c.Cache.RedisDB,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"admin_addr":   c.HTTP.AdminAddr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
			"file":   c.Log.File,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
