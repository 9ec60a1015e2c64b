// Package metrics exposes generation counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives pipeline measurements.
type Recorder interface {
	RecordRun(status string, d time.Duration)
	RecordStage(stage string, d time.Duration)
	RecordGenerated(users, sessions, events, conversions int)
	RecordTableWritten(table string, rows int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	runs        *prometheus.CounterVec
	runLatency  prometheus.Histogram
	stage       *prometheus.HistogramVec
	users       prometheus.Counter
	sessions    prometheus.Counter
	events      prometheus.Counter
	conversions prometheus.Counter
	rows        *prometheus.CounterVec
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_runs_total",
			Help: "Generation runs by final status.",
		}, []string{"status"}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_run_duration_seconds",
			Help:    "Wall time of a generation run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		users: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_users_generated_total",
			Help: "Users generated.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_sessions_generated_total",
			Help: "Sessions generated.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_events_generated_total",
			Help: "Events generated.",
		}),
		conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_conversions_generated_total",
			Help: "Conversion events generated.",
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_rows_written_total",
			Help: "Rows written per table.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.runs,
		c.runLatency,
		c.stage,
		c.users,
		c.sessions,
		c.events,
		c.conversions,
		c.rows,
	)
	return c
}

func (c *Collector) RecordRun(status string, d time.Duration) {
	c.runs.WithLabelValues(status).Inc()
	c.runLatency.Observe(d.Seconds())
}

func (c *Collector) RecordStage(stage string, d time.Duration) {
	c.stage.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) RecordGenerated(users, sessions, events, conversions int) {
	c.users.Add(float64(users))
	c.sessions.Add(float64(sessions))
	c.events.Add(float64(events))
	c.conversions.Add(float64(conversions))
}

func (c *Collector) RecordTableWritten(table string, rows int) {
	c.rows.WithLabelValues(table).Add(float64(rows))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRun(string, time.Duration) {}
func (Nop) RecordStage(string, time.Duration) {}
func (Nop) RecordGenerated(int, int, int, int) {}
func (Nop) RecordTableWritten(string, int) {}
