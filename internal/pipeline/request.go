package pipeline

import (
	"fmt"
	"time"

	"example.com/analytics-synth/internal/synth"
)

const (
	DefaultNumUsers = 1000
	DefaultDays     = 30
	dateLayout      = "2006-01-02"
)

// Request is the user-facing description of a run, as read from flags,
// config files and the HTTP API. Unset fields take defaults; NumUsers and
// Days are pointers so an explicit zero is rejected rather than defaulted.
type Request struct {
	NumUsers       *int               `yaml:"num_users" json:"num_users,omitempty"`
	Days           *int               `yaml:"days" json:"days,omitempty"`
	StartDate      string             `yaml:"start_date" json:"start_date,omitempty"`
	Seed           *uint64            `yaml:"seed" json:"seed,omitempty"`
	SegmentWeights map[string]float64 `yaml:"segment_weights" json:"segment_weights,omitempty"`
	ConversionRate *float64           `yaml:"conversion_rate" json:"conversion_rate,omitempty"`
	Workers        int                `yaml:"workers" json:"workers,omitempty"`
	Shards         int                `yaml:"shards" json:"shards,omitempty"`
}

// Plan is a fully resolved run: every default applied, the seed fixed and
// the profile validated. Plans are plain data so they can cross process
// boundaries unchanged.
type Plan struct {
	NumUsers int           `json:"num_users"`
	Days     int           `json:"days"`
	Start    time.Time     `json:"start"`
	Seed     uint64        `json:"seed"`
	Profile  synth.Profile `json:"profile"`
	Workers  int           `json:"workers"`
	Shards   int           `json:"shards"`
}

// Resolve applies defaults and validates r. now supplies the default start
// date (now minus Days) and the seed of unseeded runs.
func (r Request) Resolve(now time.Time) (Plan, error) {
	p := Plan{
		NumUsers: DefaultNumUsers,
		Days:     DefaultDays,
		Workers:  max(r.Workers, 1),
		Shards:   max(r.Shards, 1),
		Profile:  synth.DefaultProfile(),
	}
	if r.NumUsers != nil {
		p.NumUsers = *r.NumUsers
	}
	if r.Days != nil {
		p.Days = *r.Days
	}
	if err := p.checkSize(); err != nil {
		return Plan{}, err
	}
	if r.Workers < 0 {
		return Plan{}, &synth.ConfigError{Field: "workers", Reason: fmt.Sprintf("must not be negative, got %d", r.Workers)}
	}
	if r.Shards < 0 {
		return Plan{}, &synth.ConfigError{Field: "shards", Reason: fmt.Sprintf("must not be negative, got %d", r.Shards)}
	}
	if p.Shards > p.NumUsers {
		return Plan{}, &synth.ConfigError{Field: "shards", Reason: fmt.Sprintf("%d shards for %d users", p.Shards, p.NumUsers)}
	}

	today := now.UTC().Truncate(24 * time.Hour)
	if r.StartDate == "" {
		p.Start = today.AddDate(0, 0, -p.Days)
	} else {
		start, err := time.Parse(dateLayout, r.StartDate)
		if err != nil {
			return Plan{}, &synth.ConfigError{Field: "start_date", Reason: "use YYYY-MM-DD"}
		}
		p.Start = start
	}

	if r.Seed != nil {
		p.Seed = *r.Seed
	} else {
		p.Seed = uint64(now.UnixNano())
	}

	if len(r.SegmentWeights) > 0 {
		weights := make(map[synth.Segment]float64, len(r.SegmentWeights))
		for k, v := range r.SegmentWeights {
			weights[synth.Segment(k)] = v
		}
		profile, err := p.Profile.WithSegmentWeights(weights)
		if err != nil {
			return Plan{}, err
		}
		p.Profile = profile
	}
	if r.ConversionRate != nil {
		p.Profile = p.Profile.WithConversionRate(*r.ConversionRate)
	}
	if err := p.Profile.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// checkSize rejects plans that would generate nothing.
func (p Plan) checkSize() error {
	if p.NumUsers <= 0 {
		return &synth.ConfigError{Field: "num_users", Reason: fmt.Sprintf("must be positive, got %d", p.NumUsers)}
	}
	if p.Days <= 0 {
		return &synth.ConfigError{Field: "days", Reason: fmt.Sprintf("must be positive, got %d", p.Days)}
	}
	return nil
}

// ShardRange returns the users [lo, hi) of shard i. Shards differ in size by
// at most one user.
func (p Plan) ShardRange(i int) (lo, hi int) {
	n := max(p.Shards, 1)
	size, extra := p.NumUsers/n, p.NumUsers%n
	lo = i*size + min(i, extra)
	hi = lo + size
	if i < extra {
		hi++
	}
	return lo, hi
}

// PartitionName names the output files of shard i.
func PartitionName(i int) string {
	return fmt.Sprintf("part-%04d", i)
}
