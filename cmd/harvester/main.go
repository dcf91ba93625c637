package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/you/skyblock-auctions/internal/apikey"
	"github.com/you/skyblock-auctions/internal/cache"
	"github.com/you/skyblock-auctions/internal/config"
	"github.com/you/skyblock-auctions/internal/harvester"
	httpadmin "github.com/you/skyblock-auctions/internal/http"
	"github.com/you/skyblock-auctions/internal/httpapi"
	"github.com/you/skyblock-auctions/internal/hypixel"
	"github.com/you/skyblock-auctions/internal/logging"
	"github.com/you/skyblock-auctions/internal/sink"
	"github.com/you/skyblock-auctions/internal/version"
)

func main() {
	var (
		versionFlag bool
		once        bool
		envFile     string
		dbPath      string
		storeDriver string
		mysqlDSN    string
		apiURL      string
		interval    time.Duration
		workers     int
		seenCache   string
		httpAddr    string
		adminAddr   string
		logLevel    string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.BoolVar(&once, "once", false, "Run a single cycle, print its report and exit")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	flag.StringVar(&dbPath, "sqlite", "auctions.db", "Path to SQLite database file")
	flag.StringVar(&storeDriver, "store", "sqlite", "Store driver: sqlite or mysql")
	flag.StringVar(&mysqlDSN, "mysql-dsn", "", "MySQL DSN when -store=mysql")
	flag.StringVar(&apiURL, "api-url", "", "Ended auctions endpoint")
	flag.DurationVar(&interval, "interval", harvester.DefaultInterval, "Sleep between cycles")
	flag.IntVar(&workers, "decode-workers", 4, "Parallel item decoders per cycle")
	flag.StringVar(&seenCache, "seen-cache", "memory", "Seen id cache: memory, redis or none")
	flag.StringVar(&httpAddr, "http-addr", "", "Query API address (e.g., :5000)")
	flag.StringVar(&adminAddr, "admin-addr", "", "Admin endpoint address (e.g., 127.0.0.1:9091)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"harvester version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}

	if overrides["sqlite"] {
		cfg.Store.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["store"] {
		cfg.Store.Driver = strings.ToLower(strings.TrimSpace(storeDriver))
	}
	if overrides["mysql-dsn"] {
		cfg.Store.MySQLDSN = strings.TrimSpace(mysqlDSN)
	}
	if overrides["api-url"] {
		cfg.API.URL = strings.TrimSpace(apiURL)
	}
	if overrides["interval"] {
		cfg.Harvest.Interval = interval
	}
	if overrides["decode-workers"] {
		cfg.Harvest.DecodeWorkers = workers
	}
	if overrides["seen-cache"] {
		cfg.Cache.Kind = strings.ToLower(strings.TrimSpace(seenCache))
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["admin-addr"] {
		cfg.HTTP.AdminAddr = strings.TrimSpace(adminAddr)
	}
	if overrides["log-level"] {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
	code := run(cfg, once, log)
	closeLog()
	os.Exit(code)
}

// run owns every resource opened after the logger so their deferred
// cleanups finish before main flushes the log and exits.
func run(cfg config.Config, once bool, log *zap.Logger) int {
	log.Info("harvester starting",
		zap.String("version", version.Version),
		zap.Any("config", cfg.Summary()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// A listener that fails to serve stops the loop and makes run return 1.
	var listenFailed atomic.Bool

	keys, err := apikey.NewSource(cfg.API.Key, cfg.API.KeyFile)
	if err != nil {
		log.Warn("api key file", zap.Error(err))
	}
	if !keys.Configured() {
		log.Warn("no API key configured; requests may be rate limited")
	} else {
		log.Info("api key configured", zap.String("key", apikey.Redact(keys.Get())))
	}
	if err := keys.Watch(ctx, log); err != nil {
		log.Error("watch api key file", zap.Error(err))
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store", zap.Error(err))
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("closing store", zap.Error(err))
		}
	}()

	seen, err := openSeenCache(cfg)
	if err != nil {
		log.Error("open seen cache", zap.Error(err))
		return 1
	}
	defer seen.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fetcher := hypixel.New(cfg.API.URL, cfg.API.Timeout, keys.Get)
	if cfg.API.RPS > 0 {
		fetcher.Limiter = rate.NewLimiter(rate.Limit(cfg.API.RPS), 1)
	}

	var (
		target harvester.Store = store
		api    *httpapi.Server
	)
	if cfg.HTTP.Addr != "" {
		api = httpapi.New(store, httpapi.Options{
			Addr:        cfg.HTTP.Addr,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			RateRPS:     cfg.HTTP.RateRPS,
			RateBurst:   cfg.HTTP.RateBurst,
			Build: httpapi.BuildInfo{
				Version:  version.Version,
				Revision: version.Commit,
				BuiltAt:  version.BuiltAt(),
			},
			Registry: registry,
			Logger:   log,
		})
		target = sink.WithAPI(store, api)
		go func() {
			if err := api.Start(); err != nil {
				log.Error("http api", zap.Error(err))
				listenFailed.Store(true)
				stop()
			}
		}()
	}

	har := harvester.New(fetcher, target, harvester.Options{
		Interval:      cfg.Harvest.Interval,
		DecodeWorkers: cfg.Harvest.DecodeWorkers,
		Seen:          seen,
		Metrics:       harvester.NewMetrics(registry),
		Logger:        log,
	})

	if once {
		report, err := har.RunOnce(ctx)
		if err != nil {
			log.Error("cycle failed", zap.Error(err))
			return 1
		}
		_ = json.NewEncoder(os.Stdout).Encode(report)
		return 0
	}

	var admin *http.Server
	if cfg.HTTP.AdminAddr != "" {
		var reloader httpadmin.KeyReloader
		if cfg.API.KeyFile != "" {
			reloader = keys
		}
		mux := http.NewServeMux()
		httpadmin.New(reloader, har).Register(mux)
		mux.Handle("/admin/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		admin = &http.Server{Addr: cfg.HTTP.AdminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("admin listening", zap.String("addr", cfg.HTTP.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin http", zap.Error(err))
				listenFailed.Store(true)
				stop()
			}
		}()
	}

	if err := har.Run(ctx); err != nil {
		log.Error("harvester exited", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Error("http api shutdown", zap.Error(err))
		}
	}
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Error("admin shutdown", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
	if listenFailed.Load() {
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*sink.Store, error) {
	switch cfg.Store.Driver {
	case "mysql":
		return sink.OpenMySQL(cfg.Store.MySQLDSN, log)
	default:
		opts := sink.SQLiteOptions{Tuned: cfg.Store.SQLiteTuning}
		if err := migrateSQLiteFile(ctx, cfg.Store.SQLitePath, opts, log); err != nil {
			return nil, err
		}
		return sink.OpenSQLiteWith(cfg.Store.SQLitePath, opts, log)
	}
}

func openSeenCache(cfg config.Config) (cache.Seen, error) {
	switch cfg.Cache.Kind {
	case "redis":
		return cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
	case "none":
		return cache.Nop{}, nil
	default:
		return cache.NewMemory(cfg.Cache.TTL), nil
	}
}
