package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_RoundTripsEventTotals(t *testing.T) {
	users, events := generateDataset(t, DefaultProfile(), 42, 300, 14)
	agg, err := Aggregate(users, events)
	require.NoError(t, err)

	var daily DailyUserMetric
	for _, d := range agg.Daily {
		daily.Events += d.Events
		daily.PageViews += d.PageViews
		daily.Conversions += d.Conversions
		daily.TotalTimeOnPage += d.TotalTimeOnPage
		daily.Revenue += d.Revenue
		daily.Sessions += d.Sessions
	}

	var want DailyUserMetric
	for _, e := range events {
		want.Events++
		want.TotalTimeOnPage += e.TimeOnPage
		want.Revenue += e.Revenue
		if e.EventType == EventConversion {
			want.Conversions++
		} else {
			want.PageViews++
		}
	}
	assert.Equal(t, want.Events, daily.Events)
	assert.Equal(t, want.PageViews, daily.PageViews)
	assert.Equal(t, want.Conversions, daily.Conversions)
	assert.Equal(t, want.TotalTimeOnPage, daily.TotalTimeOnPage)
	assert.InDelta(t, want.Revenue, daily.Revenue, 0.01)

	assert.Equal(t, len(groupBySession(events)), daily.Sessions)
	assert.Len(t, agg.Sessions, daily.Sessions)
}

func TestAggregate_DailyRowsOrderedAndNonEmpty(t *testing.T) {
	users, events := generateDataset(t, DefaultProfile(), 8, 100, 10)
	agg, err := Aggregate(users, events)
	require.NoError(t, err)

	for i, d := range agg.Daily {
		assert.Positive(t, d.Events)
		assert.Positive(t, d.Sessions)
		assert.Equal(t, d.Events, d.PageViews+d.Conversions)
		if i == 0 {
			continue
		}
		prev := agg.Daily[i-1]
		if prev.UserID == d.UserID {
			assert.True(t, prev.Date.Before(d.Date))
		} else {
			assert.Less(t, prev.UserID, d.UserID)
		}
	}
}

func TestAggregate_OmitsInactiveDays(t *testing.T) {
	profile, err := DefaultProfile().WithSegmentWeights(map[Segment]float64{
		SegmentPower: 0, SegmentRegular: 0, SegmentCasual: 1,
	})
	require.NoError(t, err)
	users, events := generateDataset(t, profile, 13, 200, 7)

	agg, err := Aggregate(users, events)
	require.NoError(t, err)

	// Casual users draw zero sessions on some days.
	assert.Less(t, len(agg.Daily), len(users)*7)
	active := make(map[dailyKey]bool)
	for _, e := range events {
		active[dailyKey{e.UserID, e.Date()}] = true
	}
	assert.Len(t, agg.Daily, len(active))
}

func TestAggregate_SessionMetrics(t *testing.T) {
	users, events := generateDataset(t, DefaultProfile(), 19, 150, 5)
	agg, err := Aggregate(users, events)
	require.NoError(t, err)

	bySession := groupBySession(events)
	for _, sm := range agg.Sessions {
		evs := bySession[sm.SessionID]
		require.NotEmpty(t, evs)
		assert.Equal(t, len(evs), sm.Events)
		assert.Equal(t, evs[0].Timestamp, sm.SessionStart)
		assert.Equal(t, evs[len(evs)-1].Timestamp, sm.SessionEnd)
		assert.Equal(t, int64(sm.SessionEnd.Sub(sm.SessionStart).Seconds()), sm.DurationSeconds)
		assert.Equal(t, sm.Events == 1, sm.Bounce)
		if sm.Bounce {
			assert.Zero(t, sm.DurationSeconds)
		}
		last := evs[len(evs)-1]
		assert.Equal(t, last.EventType == EventConversion, sm.HadConversion)
		assert.InDelta(t, last.Revenue, sm.Revenue, 1e-9)
		assert.Equal(t, evs[0].Segment, sm.Segment)
	}
}

func TestAggregate_HandBuiltDataset(t *testing.T) {
	day := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	users := []User{
		{UserID: "user_0001", Segment: SegmentRegular, DeviceType: "mobile", Country: "US", Referrer: "direct"},
		{UserID: "user_0002", Segment: SegmentCasual, DeviceType: "desktop", Country: "DE", Referrer: "google"},
	}
	s0 := SessionKey{UserID: "user_0001", Date: day, Ordinal: 0}
	s1 := SessionKey{UserID: "user_0001", Date: day, Ordinal: 1}
	s2 := SessionKey{UserID: "user_0002", Date: day.AddDate(0, 0, 1), Ordinal: 0}
	at := func(d time.Time, h, m, s int) time.Time { return d.Add(time.Duration(h*3600+m*60+s) * time.Second) }
	ev := func(k SessionKey, i int, ts time.Time, kind EventType, dwell int, revenue float64) Event {
		return Event{
			EventID: EventKey{Session: k, Ordinal: i}.String(), SessionID: k.String(), UserID: k.UserID,
			Timestamp: ts, EventType: kind, TimeOnPage: dwell, Revenue: revenue,
		}
	}
	events := []Event{
		ev(s0, 0, at(day, 9, 0, 0), EventPageView, 30, 0),
		ev(s0, 1, at(day, 9, 0, 35), EventPageView, 90, 0),
		ev(s0, 2, at(day, 9, 2, 10), EventConversion, 0, 49.99),
		ev(s1, 0, at(day, 20, 0, 0), EventPageView, 12, 0),
		ev(s2, 0, at(s2.Date, 7, 30, 0), EventPageView, 5, 0),
	}

	agg, err := Aggregate(users, events)
	require.NoError(t, err)

	assert.Equal(t, []DailyUserMetric{
		{Date: day, UserID: "user_0001", Sessions: 2, Events: 4, PageViews: 3, Conversions: 1, TotalTimeOnPage: 132, Revenue: 49.99},
		{Date: s2.Date, UserID: "user_0002", Sessions: 1, Events: 1, PageViews: 1, TotalTimeOnPage: 5},
	}, agg.Daily)

	require.Len(t, agg.Sessions, 3)
	first := agg.Sessions[0]
	assert.Equal(t, s0.String(), first.SessionID)
	assert.Equal(t, int64(130), first.DurationSeconds)
	assert.Equal(t, 3, first.Events)
	assert.Equal(t, 2, first.PageViews)
	assert.True(t, first.HadConversion)
	assert.False(t, first.Bounce)
	assert.Equal(t, "mobile", first.DeviceType)

	bounced := agg.Sessions[1]
	assert.True(t, bounced.Bounce)
	assert.Zero(t, bounced.DurationSeconds)
	assert.False(t, bounced.HadConversion)

	assert.Equal(t, SegmentCasual, agg.Sessions[2].Segment)
	assert.Equal(t, "DE", agg.Sessions[2].Country)
}

func TestAggregate_EmptyEvents(t *testing.T) {
	agg, err := Aggregate([]User{{UserID: "user_0001"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, agg.Daily)
	assert.Empty(t, agg.Sessions)
}

func TestAggregate_IntegrityErrors(t *testing.T) {
	users, events := generateDataset(t, DefaultProfile(), 2, 5, 2)
	require.NotEmpty(t, events)

	tests := []struct {
		name   string
		mutate func(e *Event)
	}{
		{"unknown user", func(e *Event) {
			e.UserID = "user_9999"
		}},
		{"malformed event id", func(e *Event) {
			e.EventID = "garbage"
		}},
		{"event id from another session", func(e *Event) {
			e.SessionID = SessionKey{UserID: e.UserID, Date: e.Date(), Ordinal: 99}.String()
		}},
		{"session id from another user", func(e *Event) {
			other := users[len(users)-1].UserID
			if other == e.UserID {
				other = users[0].UserID
			}
			k := SessionKey{UserID: other, Date: e.Date(), Ordinal: 0}
			e.SessionID = k.String()
			e.EventID = EventKey{Session: k, Ordinal: 0}.String()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := append([]Event(nil), events...)
			tt.mutate(&broken[len(broken)/2])

			agg, err := Aggregate(users, broken)
			assert.Empty(t, agg.Daily)
			assert.Empty(t, agg.Sessions)

			var integrity *IntegrityError
			require.ErrorAs(t, err, &integrity)
			assert.Equal(t, broken[len(broken)/2].EventID, integrity.EventID)
			assert.True(t, IsIntegrityError(err))
			assert.False(t, IsConfigError(err))
		})
	}
}
