package runs

import (
	"time"

	"example.com/analytics-synth/internal/synth"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one recorded generation.
type Run struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Seed        uint64         `json:"seed"`
	NumUsers    int            `json:"num_users"`
	Days        int            `json:"days"`
	StartDate   string         `json:"start_date"`
	Shards      int            `json:"shards"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Summary     *synth.Summary `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Done reports whether the run reached a final state.
func (r Run) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// RunPage wraps paginated run results.
type RunPage struct {
	Runs     []Run `json:"runs"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int   `json:"total"`
	HasMore  bool  `json:"has_more"`
	NextPage *int  `json:"next_page,omitempty"`
}
