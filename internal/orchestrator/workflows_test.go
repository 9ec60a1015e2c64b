package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"example.com/analytics-synth/internal/logging"
	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/sink"
	"example.com/analytics-synth/internal/synth"
)

// partitionRecorder collects row counts per partition and table.
type partitionRecorder struct {
	mu    sync.Mutex
	opens map[string]int
	rows  map[string]map[string]int
}

func newPartitionRecorder() *partitionRecorder {
	return &partitionRecorder{opens: make(map[string]int), rows: make(map[string]map[string]int)}
}

func (p *partitionRecorder) factory(_, partition string) (sink.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens[partition]++
	return writerFunc(func(_ context.Context, t sink.Table) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.rows[partition] == nil {
			p.rows[partition] = make(map[string]int)
		}
		p.rows[partition][t.Name] += t.Len
		return nil
	}), nil
}

type writerFunc func(context.Context, sink.Table) error

func (f writerFunc) WriteTable(ctx context.Context, t sink.Table) error { return f(ctx, t) }

func testPlan(t *testing.T, users, shards int) pipeline.Plan {
	t.Helper()
	seed := uint64(2024)
	days := 3
	plan, err := pipeline.Request{NumUsers: &users, Days: &days, StartDate: "2024-05-01", Seed: &seed, Shards: shards}.Resolve(time.Now())
	require.NoError(t, err)
	return plan
}

func newEnv(t *testing.T, writers WriterFactory) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := NewShardActivities(pipeline.NewRunner(nil, logging.Discard()), writers, logging.Discard())
	env.RegisterWorkflowWithOptions(GenerateDatasetWorkflow, workflow.RegisterOptions{Name: DatasetWorkflow})
	env.RegisterActivityWithOptions(acts.GenerateShard, activity.RegisterOptions{Name: ShardActivityName})
	return env
}

func TestGenerateDatasetWorkflow_MergesShards(t *testing.T) {
	rec := newPartitionRecorder()
	env := newEnv(t, rec.factory)
	plan := testPlan(t, 20, 3)

	env.ExecuteWorkflow(DatasetWorkflow, DatasetInput{RunID: "run-1", Plan: plan})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DatasetResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 3, result.Shards)
	assert.Equal(t, plan.Seed, result.Summary.Seed)
	assert.Equal(t, 20, result.Summary.Users)

	whole, err := pipeline.NewRunner(nil, logging.Discard()).Run(context.Background(), plan, sink.Discard)
	require.NoError(t, err)
	assert.Equal(t, whole.Events, result.Summary.Events)
	assert.Equal(t, whole.Sessions, result.Summary.Sessions)

	assert.Equal(t, map[string]int{"part-0000": 1, "part-0001": 1, "part-0002": 1}, rec.opens)
	var events int
	for _, tables := range rec.rows {
		events += tables[sink.EventsTableName]
	}
	assert.Equal(t, whole.Events, events)
}

func TestGenerateDatasetWorkflow_SingleShardIsUnpartitioned(t *testing.T) {
	rec := newPartitionRecorder()
	env := newEnv(t, rec.factory)

	env.ExecuteWorkflow(DatasetWorkflow, DatasetInput{RunID: "run-2", Plan: testPlan(t, 5, 1)})
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, map[string]int{"": 1}, rec.opens)
}

func TestGenerateDatasetWorkflow_ConfigErrorIsNotRetried(t *testing.T) {
	rec := newPartitionRecorder()
	env := newEnv(t, rec.factory)
	plan := testPlan(t, 5, 1)
	plan.Days = 0

	env.ExecuteWorkflow(DatasetWorkflow, DatasetInput{RunID: "run-3", Plan: plan})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, synth.CodeConfig, appErr.Type())
	assert.Equal(t, synth.CodeConfig, ErrorCode(err))
	assert.Equal(t, 1, rec.opens[""])
}

func TestGenerateDatasetWorkflow_RequiresRunID(t *testing.T) {
	env := newEnv(t, newPartitionRecorder().factory)
	env.ExecuteWorkflow(DatasetWorkflow, DatasetInput{Plan: testPlan(t, 5, 1)})
	require.ErrorContains(t, env.GetWorkflowError(), "run_id required")
}

func TestLocalOrchestrator_MatchesSequentialRun(t *testing.T) {
	rec := newPartitionRecorder()
	acts := NewShardActivities(pipeline.NewRunner(nil, logging.Discard()), rec.factory, logging.Discard())
	plan := testPlan(t, 30, 4)

	result, err := NewLocalOrchestrator(acts, logging.Discard()).Generate(context.Background(), DatasetInput{RunID: "local", Plan: plan})
	require.NoError(t, err)

	whole, err := pipeline.NewRunner(nil, logging.Discard()).Run(context.Background(), plan, sink.Discard)
	require.NoError(t, err)
	assert.Equal(t, whole.Events, result.Summary.Events)
	assert.Equal(t, whole.Segments, result.Summary.Segments)
	assert.Equal(t, 4, result.Shards)
	assert.Len(t, rec.opens, 4)
}

func TestLocalOrchestrator_PropagatesErrors(t *testing.T) {
	acts := NewShardActivities(pipeline.NewRunner(nil, logging.Discard()), func(_, _ string) (sink.Writer, error) {
		return nil, errors.New("bucket unreachable")
	}, logging.Discard())

	_, err := NewLocalOrchestrator(acts, logging.Discard()).Generate(context.Background(), DatasetInput{RunID: "x", Plan: testPlan(t, 4, 2)})
	require.ErrorContains(t, err, "open sink: bucket unreachable")
	assert.Empty(t, ErrorCode(err))
}

func TestErrorCode(t *testing.T) {
	cfg := &synth.ConfigError{Field: "days", Reason: "must be positive"}
	assert.Equal(t, synth.CodeConfig, ErrorCode(cfg))
	assert.Equal(t, synth.CodeIntegrity, ErrorCode(activityError(&synth.IntegrityError{EventID: "e", Ref: "user_id", Reason: "unknown"})))
	assert.Empty(t, ErrorCode(errors.New("boom")))
}
