package synth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

func generateDataset(t *testing.T, profile Profile, seed uint64, numUsers, days int) ([]User, []Event) {
	t.Helper()
	src := NewSource(seed)
	users, err := NewPopulationGenerator(profile, src, testStart).Generate(numUsers)
	require.NoError(t, err)
	events, err := NewEventGenerator(profile, src).Generate(context.Background(), users, testStart, days)
	require.NoError(t, err)
	return users, events
}

func groupBySession(events []Event) map[string][]Event {
	out := make(map[string][]Event)
	for _, e := range events {
		out[e.SessionID] = append(out[e.SessionID], e)
	}
	return out
}
