// Package pipeline runs one generation end to end: population, events,
// aggregation and the writes of the three output tables.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"example.com/analytics-synth/internal/metrics"
	"example.com/analytics-synth/internal/sink"
	"example.com/analytics-synth/internal/synth"
)

// Stage names reported to logs and metrics.
const (
	StagePopulation      = "population"
	StageEvents          = "events"
	StageWriteEvents     = "write_events"
	StageAggregate       = "aggregate"
	StageWriteAggregates = "write_aggregates"
)

// Runner executes plans against a sink.
type Runner struct {
	rec    metrics.Recorder
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(rec metrics.Recorder, logger *slog.Logger) *Runner {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Runner{rec: rec, logger: logger.With("component", "pipeline.runner"), now: time.Now}
}

// Run generates the whole population of plan.
func (r *Runner) Run(ctx context.Context, plan Plan, w sink.Writer) (synth.Summary, error) {
	return r.RunRange(ctx, plan, 0, plan.NumUsers, w)
}

// RunRange generates users [lo, hi) of plan's population and writes their
// tables to w. The raw events are written before aggregation so they stay
// inspectable when aggregation fails.
func (r *Runner) RunRange(ctx context.Context, plan Plan, lo, hi int, w sink.Writer) (summary synth.Summary, err error) {
	started := r.now()
	logger := r.logger.With("seed", plan.Seed, "users_lo", lo, "users_hi", hi)
	defer func() {
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		r.rec.RecordRun(status, r.now().Sub(started))
	}()

	if err := plan.checkSize(); err != nil {
		return synth.Summary{}, err
	}
	src := synth.NewSource(plan.Seed)

	var users []synth.User
	if err := r.stage(logger, StagePopulation, func() error {
		var err error
		users, err = synth.NewPopulationGenerator(plan.Profile, src, plan.Start).GenerateRange(plan.NumUsers, lo, hi)
		return err
	}); err != nil {
		return synth.Summary{}, err
	}

	var events []synth.Event
	if err := r.stage(logger, StageEvents, func() error {
		var err error
		gen := synth.NewEventGenerator(plan.Profile, src, synth.WithWorkers(plan.Workers))
		events, err = gen.Generate(ctx, users, plan.Start, plan.Days)
		return err
	}); err != nil {
		return synth.Summary{}, err
	}

	if err := r.stage(logger, StageWriteEvents, func() error {
		return r.write(ctx, w, sink.EventsTable(events))
	}); err != nil {
		return synth.Summary{}, err
	}

	var agg synth.Aggregates
	if err := r.stage(logger, StageAggregate, func() error {
		var err error
		agg, err = synth.Aggregate(users, events)
		return err
	}); err != nil {
		return synth.Summary{}, err
	}

	if err := r.stage(logger, StageWriteAggregates, func() error {
		if err := r.write(ctx, w, sink.DailyUserMetricsTable(agg.Daily)); err != nil {
			return err
		}
		return r.write(ctx, w, sink.SessionMetricsTable(agg.Sessions))
	}); err != nil {
		return synth.Summary{}, err
	}

	summary = synth.Summarize(plan.Seed, users, events, agg)
	r.rec.RecordGenerated(summary.Users, summary.Sessions, summary.Events, summary.Conversions)
	logger.Info("generation finished",
		"users", summary.Users,
		"sessions", summary.Sessions,
		"events", summary.Events,
		"conversions", summary.Conversions,
		"elapsed", r.now().Sub(started),
	)
	return summary, nil
}

func (r *Runner) stage(logger *slog.Logger, name string, fn func() error) error {
	started := r.now()
	err := fn()
	elapsed := r.now().Sub(started)
	r.rec.RecordStage(name, elapsed)
	if err != nil {
		logger.Error("stage failed", "stage", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Debug("stage finished", "stage", name, "elapsed", elapsed)
	return nil
}

func (r *Runner) write(ctx context.Context, w sink.Writer, t sink.Table) error {
	if err := w.WriteTable(ctx, t); err != nil {
		return err
	}
	r.rec.RecordTableWritten(t.Name, t.Len)
	return nil
}
