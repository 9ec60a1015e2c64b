package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKey_RoundTrip(t *testing.T) {
	k := SessionKey{UserID: "user_0042", Date: time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), Ordinal: 3}
	assert.Equal(t, "user_0042_20240229_3", k.String())

	parsed, err := ParseSessionKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestEventKey_RoundTrip(t *testing.T) {
	k := EventKey{
		Session: SessionKey{UserID: "user_00007", Date: time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC), Ordinal: 12},
		Ordinal: 0,
	}
	assert.Equal(t, "user_00007_20231231_12_0", k.String())

	parsed, err := ParseEventKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKeys_RejectsMalformedIDs(t *testing.T) {
	for _, id := range []string{"", "user", "user_0001", "user_0001_2024", "user_0001_20241301_0", "user_0001_20240101_x", "_20240101_0"} {
		_, err := ParseSessionKey(id)
		assert.Error(t, err, "session id %q", id)
	}
	for _, id := range []string{"", "user_0001_20240101_0", "user_0001_20240101_0_-1", "user_0001_20240101_0_"} {
		_, err := ParseEventKey(id)
		assert.Error(t, err, "event id %q", id)
	}
}

func TestKeys_DistinctPartsGiveDistinctIDs(t *testing.T) {
	day := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	ids := map[string]bool{}
	for _, user := range []string{"user_0001", "user_0011"} {
		for d := range 3 {
			for s := range 12 {
				for e := range 12 {
					id := EventKey{Session: SessionKey{UserID: user, Date: day.AddDate(0, 0, d), Ordinal: s}, Ordinal: e}.String()
					require.False(t, ids[id], "collision on %s", id)
					ids[id] = true
				}
			}
		}
	}
}
