package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"example.com/analytics-synth/internal/app"
	"example.com/analytics-synth/internal/config"
	"example.com/analytics-synth/internal/logging"
	"example.com/analytics-synth/internal/metrics"
	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/runs"
	"example.com/analytics-synth/internal/server"
	"example.com/analytics-synth/internal/sqliteutil"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		dbPath     = flag.String("db", "", "path to the run registry sqlite file (overrides config)")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.New()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	db, err := sqliteutil.Open(cfg.Server.DBPath)
	if err != nil {
		logger.Error("open run db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := runs.NewStore(db)
	if err := store.Init(ctx); err != nil {
		logger.Error("init run schema failed", "error", err)
		os.Exit(1)
	}

	var cache *runs.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = runs.NewCache(rdb, cfg.Redis.TTL)
		if err := cache.Ping(ctx); err != nil {
			logger.Error("ping redis failed", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runner := pipeline.NewRunner(metrics.NewCollector(reg), logger)

	sinks, err := app.OpenSinks(ctx, cfg.Output, true, logger)
	if err != nil {
		logger.Error("open sinks failed", "error", err)
		os.Exit(1)
	}
	defer sinks.Close()

	orch, closeOrch, err := app.NewOrchestrator(cfg, runner, sinks, logger)
	if err != nil {
		logger.Error("build orchestrator failed", "error", err)
		os.Exit(1)
	}
	defer closeOrch()

	serverLogger := logger.With("component", "synth.http")
	srv := server.NewServer(store, cache, orch, reg, serverLogger)
	srv.PlanCheck = func(p pipeline.Plan) error { return sinks.CheckShards(p.Shards) }
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		serverLogger.Info("synth API listening", "addr", cfg.Server.Addr, "db", cfg.Server.DBPath, "temporal", cfg.Temporal.HostPort != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Error("synth server error", "error", err)
		}
	}()

	waitForShutdown(serverLogger, httpServer, srv)
}

func waitForShutdown(logger *slog.Logger, httpServer *http.Server, srv *server.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	srv.Close()
	logger.Info("synth server stopped")
}
