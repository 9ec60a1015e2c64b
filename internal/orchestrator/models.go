package orchestrator

import (
	"time"

	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/synth"
)

// DatasetInput asks for one complete dataset.
type DatasetInput struct {
	RunID string        `json:"run_id"`
	Plan  pipeline.Plan `json:"plan"`
}

// ShardInput is the unit of work of one activity: users [Lo, Hi) of the
// plan's population.
type ShardInput struct {
	RunID string        `json:"run_id"`
	Plan  pipeline.Plan `json:"plan"`
	Shard int           `json:"shard"`
	Lo    int           `json:"lo"`
	Hi    int           `json:"hi"`
}

// Partition names the shard's output files. Unsharded runs write plain
// table files.
func (in ShardInput) Partition() string {
	if in.Plan.Shards <= 1 {
		return ""
	}
	return pipeline.PartitionName(in.Shard)
}

type ShardResult struct {
	Shard   int           `json:"shard"`
	Summary synth.Summary `json:"summary"`
}

// DatasetResult reports a finished dataset. WorkflowID and TemporalRunID are
// empty for local runs.
type DatasetResult struct {
	RunID         string        `json:"run_id"`
	WorkflowID    string        `json:"workflow_id,omitempty"`
	TemporalRunID string        `json:"temporal_run_id,omitempty"`
	Shards        int           `json:"shards"`
	Summary       synth.Summary `json:"summary"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// mergeShards folds shard summaries in shard order.
func mergeShards(seed uint64, results []ShardResult) synth.Summary {
	var out synth.Summary
	for _, r := range results {
		out = out.Merge(r.Summary)
	}
	out.Seed = seed
	return out
}
