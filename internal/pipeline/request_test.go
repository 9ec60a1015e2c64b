package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"example.com/analytics-synth/internal/synth"
)

var now = time.Date(2024, time.April, 15, 13, 45, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestResolve_Defaults(t *testing.T) {
	plan, err := Request{}.Resolve(now)
	require.NoError(t, err)

	assert.Equal(t, DefaultNumUsers, plan.NumUsers)
	assert.Equal(t, DefaultDays, plan.Days)
	assert.Equal(t, time.Date(2024, time.March, 16, 0, 0, 0, 0, time.UTC), plan.Start)
	assert.Equal(t, uint64(now.UnixNano()), plan.Seed)
	assert.Equal(t, 1, plan.Workers)
	assert.Equal(t, 1, plan.Shards)
	assert.Equal(t, 0.10, plan.Profile.ConversionRate)
}

func TestResolve_Overrides(t *testing.T) {
	plan, err := Request{
		NumUsers:       ptr(50),
		Days:           ptr(7),
		StartDate:      "2024-01-01",
		Seed:           ptr(uint64(42)),
		SegmentWeights: map[string]float64{"power_user": 0.2, "regular_user": 0.5, "casual_user": 0.3},
		ConversionRate: ptr(0.0),
		Workers:        4,
		Shards:         3,
	}.Resolve(now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), plan.Start)
	assert.Equal(t, uint64(42), plan.Seed)
	assert.Equal(t, 0.0, plan.Profile.ConversionRate)
	assert.Equal(t, 0.2, plan.Profile.SegmentWeights()[synth.SegmentPower])
	assert.Equal(t, 4, plan.Workers)
	assert.Equal(t, 3, plan.Shards)
}

func TestResolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"negative users", Request{NumUsers: ptr(-1)}, "num_users"},
		{"zero users", Request{NumUsers: ptr(0)}, "num_users"},
		{"negative days", Request{Days: ptr(-3)}, "days"},
		{"zero days", Request{Days: ptr(0)}, "days"},
		{"negative workers", Request{Workers: -4}, "workers"},
		{"negative shards", Request{Shards: -2}, "shards"},
		{"bad start", Request{StartDate: "04/01/2024"}, "start_date"},
		{"more shards than users", Request{NumUsers: ptr(2), Shards: 3}, "shards"},
		{"weights off", Request{SegmentWeights: map[string]float64{"power_user": 0.5, "regular_user": 0.5, "casual_user": 0.5}}, "segment_weights"},
		{"unknown segment", Request{SegmentWeights: map[string]float64{"power_user": 1, "regular_user": 0, "casual_user": 0, "bots": 0}}, "segment_weights"},
		{"rate above one", Request{ConversionRate: ptr(1.5)}, "conversion_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Resolve(now)
			var cfgErr *synth.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestResolve_ZeroFromYAMLIsRejected(t *testing.T) {
	var req Request
	require.NoError(t, yaml.Unmarshal([]byte("days: 0\n"), &req))
	_, err := req.Resolve(now)
	assert.True(t, synth.IsConfigError(err), "%v", err)

	req = Request{}
	require.NoError(t, json.Unmarshal([]byte(`{"num_users": 0}`), &req))
	_, err = req.Resolve(now)
	assert.True(t, synth.IsConfigError(err), "%v", err)
}

func TestPlan_ShardRangeCoversPopulation(t *testing.T) {
	plan := Plan{NumUsers: 10, Shards: 3}
	var got [][2]int
	for i := range plan.Shards {
		lo, hi := plan.ShardRange(i)
		got = append(got, [2]int{lo, hi})
	}
	assert.Equal(t, [][2]int{{0, 4}, {4, 7}, {7, 10}}, got)
}

func TestPlan_JSONRoundTripKeepsProfile(t *testing.T) {
	plan, err := Request{NumUsers: ptr(5), Seed: ptr(uint64(7))}.Resolve(now)
	require.NoError(t, err)

	raw, err := json.Marshal(plan)
	require.NoError(t, err)
	var back Plan
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.NoError(t, back.Profile.Validate())
	assert.Equal(t, plan.Seed, back.Seed)
	assert.True(t, plan.Start.Equal(back.Start))
}

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "part-0000", PartitionName(0))
	assert.Equal(t, "part-0012", PartitionName(12))
}
