package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/analytics-synth/internal/logging"
	"example.com/analytics-synth/internal/sink"
	"example.com/analytics-synth/internal/sqliteutil"
	"example.com/analytics-synth/internal/synth"
)

type tableRecorder struct {
	rows map[string]int
	fail string
}

func (r *tableRecorder) WriteTable(_ context.Context, t sink.Table) error {
	if t.Name == r.fail {
		return errors.New("disk full")
	}
	if r.rows == nil {
		r.rows = make(map[string]int)
	}
	r.rows[t.Name] += t.Len
	return nil
}

type stageRecorder struct {
	stages   []string
	statuses []string
	tables   map[string]int
	events   int
}

func (s *stageRecorder) RecordRun(status string, _ time.Duration) {
	s.statuses = append(s.statuses, status)
}

func (s *stageRecorder) RecordStage(stage string, _ time.Duration) {
	s.stages = append(s.stages, stage)
}

func (s *stageRecorder) RecordGenerated(_, _, events, _ int) { s.events += events }

func (s *stageRecorder) RecordTableWritten(table string, rows int) {
	if s.tables == nil {
		s.tables = make(map[string]int)
	}
	s.tables[table] += rows
}

func testPlan(t *testing.T, users, days int) Plan {
	t.Helper()
	plan, err := Request{NumUsers: &users, Days: &days, StartDate: "2024-02-01", Seed: ptr(uint64(99))}.Resolve(now)
	require.NoError(t, err)
	return plan
}

func TestRunner_WritesAllTables(t *testing.T) {
	rec := &stageRecorder{}
	w := &tableRecorder{}
	summary, err := NewRunner(rec, logging.Discard()).Run(context.Background(), testPlan(t, 30, 5), w)
	require.NoError(t, err)

	assert.Equal(t, 30, summary.Users)
	assert.Equal(t, uint64(99), summary.Seed)
	assert.Equal(t, summary.Events, w.rows[sink.EventsTableName])
	assert.Equal(t, summary.Sessions, w.rows[sink.SessionTableName])
	assert.Equal(t, summary.DailyRows, w.rows[sink.DailyMetricsTableName])
	assert.Equal(t, w.rows, rec.tables)
	assert.Equal(t, summary.Events, rec.events)
	assert.Equal(t, []string{StagePopulation, StageEvents, StageWriteEvents, StageAggregate, StageWriteAggregates}, rec.stages)
	assert.Equal(t, []string{"succeeded"}, rec.statuses)
}

func TestRunner_ShardsMergeIntoWholeRun(t *testing.T) {
	plan := testPlan(t, 25, 4)
	runner := NewRunner(nil, logging.Discard())
	ctx := context.Background()

	whole, err := runner.Run(ctx, plan, sink.Discard)
	require.NoError(t, err)

	plan.Shards = 3
	var merged synth.Summary
	for i := range plan.Shards {
		lo, hi := plan.ShardRange(i)
		part, err := runner.RunRange(ctx, plan, lo, hi, sink.Discard)
		require.NoError(t, err)
		merged = merged.Merge(part)
	}

	assert.Equal(t, whole.Events, merged.Events)
	assert.Equal(t, whole.Sessions, merged.Sessions)
	assert.Equal(t, whole.Segments, merged.Segments)
	assert.InDelta(t, whole.Revenue, merged.Revenue, 1e-6)
}

func TestRunner_WriteFailureStopsRun(t *testing.T) {
	rec := &stageRecorder{}
	w := &tableRecorder{fail: sink.DailyMetricsTableName}
	_, err := NewRunner(rec, logging.Discard()).Run(context.Background(), testPlan(t, 5, 2), w)

	require.ErrorContains(t, err, "write_aggregates: disk full")
	assert.Positive(t, w.rows[sink.EventsTableName])
	assert.Zero(t, w.rows[sink.SessionTableName])
	assert.Equal(t, []string{"failed"}, rec.statuses)
}

func TestRunner_ConfigErrorBeforeAnyStage(t *testing.T) {
	for _, mutate := range []func(*Plan){
		func(p *Plan) { p.Days = 0 },
		func(p *Plan) { p.NumUsers = -1 },
	} {
		plan := testPlan(t, 5, 2)
		mutate(&plan)
		rec := &stageRecorder{}
		w := &tableRecorder{}
		_, err := NewRunner(rec, logging.Discard()).Run(context.Background(), plan, w)

		assert.True(t, synth.IsConfigError(err), "%v", err)
		assert.Empty(t, rec.stages)
		assert.Empty(t, w.rows)
		assert.Equal(t, []string{"failed"}, rec.statuses)
	}
}

func TestRunner_SQLiteSink(t *testing.T) {
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	defer db.Close()

	summary, err := NewRunner(nil, logging.Discard()).Run(context.Background(), testPlan(t, 10, 3), sink.NewSQLWriter(db, sink.SQLite))
	require.NoError(t, err)

	var events, sessions int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analytics_events`).Scan(&events))
	require.NoError(t, db.QueryRow(`SELECT SUM(events) FROM session_metrics`).Scan(&sessions))
	assert.Equal(t, summary.Events, events)
	assert.Equal(t, summary.Events, sessions)
}
