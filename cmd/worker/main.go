package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalworker "go.temporal.io/sdk/worker"

	"example.com/analytics-synth/internal/app"
	"example.com/analytics-synth/internal/config"
	"example.com/analytics-synth/internal/logging"
	"example.com/analytics-synth/internal/metrics"
	"example.com/analytics-synth/internal/orchestrator"
	"example.com/analytics-synth/internal/pipeline"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		metricsAddr = flag.String("metrics-addr", ":9091", "listen address for /metrics; empty disables it")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.New()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if cfg.Temporal.HostPort == "" {
		logger.Error("temporal host_port is required for the worker")
		os.Exit(1)
	}

	sinks, err := app.OpenSinks(ctx, cfg.Output, true, logger)
	if err != nil {
		logger.Error("open sinks failed", "error", err)
		os.Exit(1)
	}
	defer sinks.Close()

	c, err := app.DialTemporal(cfg.Temporal, logger)
	if err != nil {
		logger.Error("temporal client failed", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	reg := prometheus.NewRegistry()
	runner := pipeline.NewRunner(metrics.NewCollector(reg), logger)
	activities := orchestrator.NewShardActivities(runner, sinks.Writer, logger.With("component", "synth.activities"))
	w := orchestrator.RegisterWorker(c, cfg.Temporal.TaskQueue, activities)

	if *metricsAddr != "" {
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("synth worker started", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace, "output", cfg.Output.Dir)
	if err := w.Run(temporalworker.InterruptCh()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
