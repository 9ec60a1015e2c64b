package sink

import (
	"example.com/analytics-synth/internal/synth"
)

// Table names of the generated dataset.
const (
	EventsTableName       = "analytics_events"
	DailyMetricsTableName = "daily_user_metrics"
	SessionTableName      = "session_metrics"
)

var eventColumns = []Column{
	{"event_id", String},
	{"session_id", String},
	{"user_id", String},
	{"timestamp", Timestamp},
	{"event_type", String},
	{"page_category", String},
	{"page_name", String},
	{"time_on_page", Int64},
	{"bounce", Bool},
	{"device_type", String},
	{"country", String},
	{"referrer", String},
	{"user_segment", String},
	{"revenue", Float64},
	{"date", Date},
	{"hour", Int64},
	{"day_of_week", String},
	{"is_weekend", Bool},
}

// EventsTable projects raw events, adding the calendar columns derived from
// each timestamp.
func EventsTable(events []synth.Event) Table {
	return Table{
		Name:    EventsTableName,
		Columns: eventColumns,
		Len:     len(events),
		Row: func(i int) []any {
			e := events[i]
			ts := e.Timestamp.UTC()
			return []any{
				e.EventID,
				e.SessionID,
				e.UserID,
				ts,
				string(e.EventType),
				e.PageCategory,
				e.PageName,
				int64(e.TimeOnPage),
				e.Bounce,
				e.DeviceType,
				e.Country,
				e.Referrer,
				string(e.Segment),
				e.Revenue,
				e.Date(),
				int64(ts.Hour()),
				ts.Weekday().String(),
				e.IsWeekend(),
			}
		},
	}
}

var dailyColumns = []Column{
	{"date", Date},
	{"user_id", String},
	{"sessions", Int64},
	{"events", Int64},
	{"page_views", Int64},
	{"conversions", Int64},
	{"total_time", Int64},
	{"revenue", Float64},
}

// DailyUserMetricsTable projects per-user daily rows.
func DailyUserMetricsTable(rows []synth.DailyUserMetric) Table {
	return Table{
		Name:    DailyMetricsTableName,
		Columns: dailyColumns,
		Len:     len(rows),
		Row: func(i int) []any {
			d := rows[i]
			return []any{
				d.Date,
				d.UserID,
				int64(d.Sessions),
				int64(d.Events),
				int64(d.PageViews),
				int64(d.Conversions),
				int64(d.TotalTimeOnPage),
				d.Revenue,
			}
		},
	}
}

var sessionColumns = []Column{
	{"session_id", String},
	{"user_id", String},
	{"user_segment", String},
	{"device_type", String},
	{"country", String},
	{"referrer", String},
	{"session_start", Timestamp},
	{"session_end", Timestamp},
	{"events", Int64},
	{"page_views", Int64},
	{"session_duration", Int64},
	{"had_conversion", Bool},
	{"bounced", Bool},
	{"revenue", Float64},
}

// SessionMetricsTable projects per-session rows.
func SessionMetricsTable(rows []synth.SessionMetric) Table {
	return Table{
		Name:    SessionTableName,
		Columns: sessionColumns,
		Len:     len(rows),
		Row: func(i int) []any {
			s := rows[i]
			return []any{
				s.SessionID,
				s.UserID,
				string(s.Segment),
				s.DeviceType,
				s.Country,
				s.Referrer,
				s.SessionStart.UTC(),
				s.SessionEnd.UTC(),
				int64(s.Events),
				int64(s.PageViews),
				s.DurationSeconds,
				s.HadConversion,
				s.Bounce,
				s.Revenue,
			}
		},
	}
}
