package synth

import (
	"cmp"
	"slices"
	"time"
)

// DailyUserMetric summarises one user's activity on one calendar date.
type DailyUserMetric struct {
	Date            time.Time `json:"date"`
	UserID          string    `json:"user_id"`
	Sessions        int       `json:"sessions"`
	Events          int       `json:"events"`
	PageViews       int       `json:"page_views"`
	Conversions     int       `json:"conversions"`
	TotalTimeOnPage int       `json:"total_time"`
	Revenue         float64   `json:"revenue"`
}

// SessionMetric summarises one session.
type SessionMetric struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Segment         Segment   `json:"user_segment"`
	DeviceType      string    `json:"device_type"`
	Country         string    `json:"country"`
	Referrer        string    `json:"referrer"`
	SessionStart    time.Time `json:"session_start"`
	SessionEnd      time.Time `json:"session_end"`
	Events          int       `json:"events"`
	PageViews       int       `json:"page_views"`
	DurationSeconds int64     `json:"session_duration"`
	HadConversion   bool      `json:"had_conversion"`
	Bounce          bool      `json:"bounced"`
	Revenue         float64   `json:"revenue"`
}

// Aggregates holds the two derived tables.
type Aggregates struct {
	Daily    []DailyUserMetric
	Sessions []SessionMetric
}

type dailyKey struct {
	userID string
	date   time.Time
}

type dailySession struct {
	day       dailyKey
	sessionID string
}

// Aggregate derives per-user daily metrics and per-session metrics from
// events. (user, date) pairs without events are omitted rather than padded
// with zero rows. An event that does not resolve against users aborts the
// aggregation with an *IntegrityError.
//
// Daily rows are ordered by user then date; session rows follow the first
// appearance of each session in events.
func Aggregate(users []User, events []Event) (Aggregates, error) {
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	var (
		daily        []DailyUserMetric
		sessions     []SessionMetric
		dailyIndex   = make(map[dailyKey]int)
		sessionIndex = make(map[string]int)
		seen         = make(map[dailySession]struct{})
	)

	for _, e := range events {
		u, err := resolve(byID, e)
		if err != nil {
			return Aggregates{}, err
		}

		si, ok := sessionIndex[e.SessionID]
		if !ok {
			si = len(sessions)
			sessionIndex[e.SessionID] = si
			sessions = append(sessions, SessionMetric{
				SessionID:    e.SessionID,
				UserID:       u.UserID,
				Segment:      u.Segment,
				DeviceType:   u.DeviceType,
				Country:      u.Country,
				Referrer:     u.Referrer,
				SessionStart: e.Timestamp,
				SessionEnd:   e.Timestamp,
			})
		}
		sm := &sessions[si]
		if sm.UserID != e.UserID {
			return Aggregates{}, &IntegrityError{EventID: e.EventID, Ref: "session_id=" + e.SessionID, Reason: "session belongs to another user"}
		}
		sm.Events++
		if e.Timestamp.Before(sm.SessionStart) {
			sm.SessionStart = e.Timestamp
		}
		if e.Timestamp.After(sm.SessionEnd) {
			sm.SessionEnd = e.Timestamp
		}

		dk := dailyKey{userID: e.UserID, date: e.Date()}
		di, ok := dailyIndex[dk]
		if !ok {
			di = len(daily)
			dailyIndex[dk] = di
			daily = append(daily, DailyUserMetric{Date: dk.date, UserID: dk.userID})
		}
		dm := &daily[di]
		dm.Events++
		dm.TotalTimeOnPage += e.TimeOnPage
		if _, counted := seen[dailySession{dk, e.SessionID}]; !counted {
			seen[dailySession{dk, e.SessionID}] = struct{}{}
			dm.Sessions++
		}

		switch e.EventType {
		case EventConversion:
			sm.HadConversion = true
			sm.Revenue = roundCents(sm.Revenue + e.Revenue)
			dm.Conversions++
			dm.Revenue = roundCents(dm.Revenue + e.Revenue)
		default:
			sm.PageViews++
			dm.PageViews++
		}
	}

	for i := range sessions {
		sm := &sessions[i]
		sm.DurationSeconds = int64(sm.SessionEnd.Sub(sm.SessionStart) / time.Second)
		sm.Bounce = sm.Events == 1
	}
	slices.SortFunc(daily, func(a, b DailyUserMetric) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), a.Date.Compare(b.Date))
	})

	return Aggregates{Daily: daily, Sessions: sessions}, nil
}

// resolve checks the foreign keys of e and returns its user.
func resolve(byID map[string]User, e Event) (User, error) {
	u, ok := byID[e.UserID]
	if !ok {
		return User{}, &IntegrityError{EventID: e.EventID, Ref: "user_id=" + e.UserID, Reason: "user not in population"}
	}
	key, err := ParseEventKey(e.EventID)
	if err != nil {
		return User{}, &IntegrityError{EventID: e.EventID, Ref: "event_id", Reason: err.Error()}
	}
	if key.Session.String() != e.SessionID {
		return User{}, &IntegrityError{EventID: e.EventID, Ref: "session_id=" + e.SessionID, Reason: "event id does not derive from session id"}
	}
	if key.Session.UserID != e.UserID {
		return User{}, &IntegrityError{EventID: e.EventID, Ref: "session_id=" + e.SessionID, Reason: "session id does not derive from user id"}
	}
	return u, nil
}
