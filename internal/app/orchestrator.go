package app

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"example.com/analytics-synth/internal/config"
	"example.com/analytics-synth/internal/orchestrator"
	"example.com/analytics-synth/internal/pipeline"
)

// DialTemporal connects to the configured Temporal frontend.
func DialTemporal(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewOrchestrator returns a Temporal orchestrator when a frontend is
// configured and an in-process one writing to sinks otherwise. The returned
// func releases the Temporal client.
func NewOrchestrator(cfg *config.Config, runner *pipeline.Runner, sinks *Sinks, logger *slog.Logger) (orchestrator.Orchestrator, func(), error) {
	if cfg.Temporal.HostPort != "" {
		c, err := DialTemporal(cfg.Temporal, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using temporal orchestration", "host_port", cfg.Temporal.HostPort, "task_queue", cfg.Temporal.TaskQueue)
		return orchestrator.NewTemporalOrchestrator(c, cfg.Temporal.TaskQueue, logger), c.Close, nil
	}
	activities := orchestrator.NewShardActivities(runner, sinks.Writer, logger.With("component", "synth.activities"))
	return orchestrator.NewLocalOrchestrator(activities, logger), func() {}, nil
}
