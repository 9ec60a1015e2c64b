package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/sink"
	"example.com/analytics-synth/internal/synth"
)

const (
	DefaultTaskQueue  = "synth-generate-task-queue"
	DatasetWorkflow   = "synth.generate.dataset"
	ShardActivityName = "synth.generate.shard"
)

// WriterFactory returns the sink for one output partition of a run. An
// empty partition means the run is not sharded.
type WriterFactory func(runID, partition string) (sink.Writer, error)

// ShardActivities runs generation shards on the pipeline runner.
type ShardActivities struct {
	runner  *pipeline.Runner
	writers WriterFactory
	logger  *slog.Logger
}

func NewShardActivities(runner *pipeline.Runner, writers WriterFactory, logger *slog.Logger) *ShardActivities {
	return &ShardActivities{runner: runner, writers: writers, logger: logger}
}

// GenerateShard generates and writes one shard.
func (a *ShardActivities) GenerateShard(ctx context.Context, input ShardInput) (ShardResult, error) {
	attempt := activity.GetInfo(ctx).Attempt
	result, err := a.runShard(ctx, input)
	if err != nil {
		a.logger.Error("activity generate shard failed", "run_id", input.RunID, "shard", input.Shard, "attempt", attempt, "error", err)
		return result, activityError(err)
	}
	a.logger.Info("activity generate shard", "run_id", input.RunID, "shard", input.Shard, "users", input.Hi-input.Lo, "events", result.Summary.Events, "attempt", attempt)
	return result, nil
}

func (a *ShardActivities) runShard(ctx context.Context, input ShardInput) (ShardResult, error) {
	w, err := a.writers(input.RunID, input.Partition())
	if err != nil {
		return ShardResult{Shard: input.Shard}, fmt.Errorf("open sink: %w", err)
	}
	summary, err := a.runner.RunRange(ctx, input.Plan, input.Lo, input.Hi, w)
	if err != nil {
		return ShardResult{Shard: input.Shard}, err
	}
	return ShardResult{Shard: input.Shard, Summary: summary}, nil
}

// activityError marks generation errors that cannot succeed on retry.
func activityError(err error) error {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return temporal.NewNonRetryableApplicationError(err.Error(), coded.Code(), err)
	}
	return err
}

// shardInputs splits the plan's population into per-shard inputs.
func shardInputs(runID string, plan pipeline.Plan) []ShardInput {
	n := max(plan.Shards, 1)
	out := make([]ShardInput, 0, n)
	for i := range n {
		lo, hi := plan.ShardRange(i)
		out = append(out, ShardInput{RunID: runID, Plan: plan, Shard: i, Lo: lo, Hi: hi})
	}
	return out
}

// GenerateDatasetWorkflow fans the population out to shard activities and
// merges their summaries. Shards run concurrently; each writes its own
// partition.
func GenerateDatasetWorkflow(ctx workflow.Context, input DatasetInput) (DatasetResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.RunID == "" {
		return DatasetResult{}, errors.New("run_id required")
	}
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: []string{synth.CodeConfig, synth.CodeIntegrity},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	result := DatasetResult{RunID: input.RunID, StartedAt: workflow.Now(ctx)}
	shards := shardInputs(input.RunID, input.Plan)
	result.Shards = len(shards)
	logger.Info("dataset workflow started", "run_id", input.RunID, "users", input.Plan.NumUsers, "days", input.Plan.Days, "shards", len(shards))

	futures := make([]workflow.Future, len(shards))
	for i, shard := range shards {
		futures[i] = workflow.ExecuteActivity(ctx, ShardActivityName, shard)
	}
	results := make([]ShardResult, len(shards))
	for i, f := range futures {
		if err := f.Get(ctx, &results[i]); err != nil {
			logger.Error("shard activity failed", "run_id", input.RunID, "shard", i, "error", err)
			return result, err
		}
	}

	result.Summary = mergeShards(input.Plan.Seed, results)
	result.CompletedAt = workflow.Now(ctx)
	logger.Info("dataset workflow finished", "run_id", input.RunID, "events", result.Summary.Events, "sessions", result.Summary.Sessions)
	return result, nil
}

// RegisterWorker wires up the Temporal worker consuming taskQueue.
func RegisterWorker(c client.Client, taskQueue string, activities *ShardActivities) temporalworker.Worker {
	w := temporalworker.New(c, taskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(GenerateDatasetWorkflow, workflow.RegisterOptions{Name: DatasetWorkflow})
	w.RegisterActivityWithOptions(activities.GenerateShard, activity.RegisterOptions{Name: ShardActivityName})
	return w
}

// Orchestrator produces complete datasets.
type Orchestrator interface {
	Generate(ctx context.Context, input DatasetInput) (DatasetResult, error)
}

// TemporalOrchestrator starts dataset workflows through the Temporal client
// and waits for them.
type TemporalOrchestrator struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

func NewTemporalOrchestrator(c client.Client, taskQueue string, logger *slog.Logger) *TemporalOrchestrator {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalOrchestrator{client: c, taskQueue: taskQueue, logger: logger.With("component", "synth.orchestrator")}
}

func (o *TemporalOrchestrator) Generate(ctx context.Context, input DatasetInput) (DatasetResult, error) {
	options := client.StartWorkflowOptions{
		ID:                       "synth-" + input.RunID,
		TaskQueue:                o.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionTimeout: 2 * time.Hour,
	}
	we, err := o.client.ExecuteWorkflow(ctx, options, DatasetWorkflow, input)
	if err != nil {
		o.logger.Error("start workflow failed", "run_id", input.RunID, "error", err)
		return DatasetResult{}, err
	}
	var result DatasetResult
	err = we.Get(ctx, &result)
	result.RunID = input.RunID
	result.WorkflowID = we.GetID()
	result.TemporalRunID = we.GetRunID()
	if err != nil {
		o.logger.Error("wait workflow failed", "workflow_id", we.GetID(), "error", err)
		return result, err
	}
	return result, nil
}

// ErrorCode returns the generation error code carried by err, looking
// through Temporal failure wrapping. It returns "" for other errors.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case synth.CodeConfig, synth.CodeIntegrity:
			return appErr.Type()
		}
	}
	return ""
}
