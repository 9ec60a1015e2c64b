package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// LocalOrchestrator runs shards in-process, one goroutine per shard. It is
// used when no Temporal frontend is configured.
type LocalOrchestrator struct {
	activities *ShardActivities
	logger     *slog.Logger
	now        func() time.Time
}

func NewLocalOrchestrator(activities *ShardActivities, logger *slog.Logger) *LocalOrchestrator {
	return &LocalOrchestrator{activities: activities, logger: logger.With("component", "synth.local"), now: time.Now}
}

func (o *LocalOrchestrator) Generate(ctx context.Context, input DatasetInput) (DatasetResult, error) {
	result := DatasetResult{RunID: input.RunID, StartedAt: o.now()}
	shards := shardInputs(input.RunID, input.Plan)
	result.Shards = len(shards)

	results := make([]ShardResult, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			r, err := o.activities.runShard(gctx, shard)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Error("local generation failed", "run_id", input.RunID, "error", err)
		return result, err
	}

	result.Summary = mergeShards(input.Plan.Seed, results)
	result.CompletedAt = o.now()
	o.logger.Info("local generation finished", "run_id", input.RunID, "shards", len(shards), "events", result.Summary.Events)
	return result, nil
}
