package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventType distinguishes page views from conversions.
type EventType string

const (
	EventPageView   EventType = "page_view"
	EventConversion EventType = "conversion"
)

// Event is one row of the raw analytics stream. SessionID and UserID are
// foreign keys into the session and population.
type Event struct {
	EventID      string    `json:"event_id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	EventType    EventType `json:"event_type"`
	PageCategory string    `json:"page_category"`
	PageName     string    `json:"page_name"`
	TimeOnPage   int       `json:"time_on_page"`
	Bounce       bool      `json:"bounce"`
	DeviceType   string    `json:"device_type"`
	Country      string    `json:"country"`
	Referrer     string    `json:"referrer"`
	Segment      Segment   `json:"user_segment"`
	Revenue      float64   `json:"revenue,omitempty"`
}

// Date is the UTC calendar date of the event.
func (e Event) Date() time.Time {
	return truncateDay(e.Timestamp)
}

// IsWeekend reports whether the event happened on Saturday or Sunday.
func (e Event) IsWeekend() bool {
	wd := e.Timestamp.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// EventGenerator expands a population into sessions and events.
type EventGenerator struct {
	profile Profile
	src     Source
	workers int
}

// EventOption customises an EventGenerator.
type EventOption func(*EventGenerator)

// WithWorkers generates users on n goroutines. Output is identical to the
// sequential generator.
func WithWorkers(n int) EventOption {
	return func(g *EventGenerator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// NewEventGenerator returns a generator drawing from src.
func NewEventGenerator(profile Profile, src Source, opts ...EventOption) *EventGenerator {
	g := &EventGenerator{profile: profile, src: src, workers: 1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the events of every user for days consecutive days from
// start, ordered by user, date, session and event. Nothing is produced when
// the input is invalid.
func (g *EventGenerator) Generate(ctx context.Context, users []User, start time.Time, days int) ([]Event, error) {
	if days <= 0 {
		return nil, configErrorf("days", "must be positive, got %d", days)
	}
	if len(users) == 0 {
		return nil, configErrorf("num_users", "population is empty")
	}
	if err := g.profile.Validate(); err != nil {
		return nil, err
	}
	segments := make([]SegmentProfile, len(users))
	for i, u := range users {
		seg, ok := g.profile.segment(u.Segment)
		if !ok {
			return nil, configErrorf("segment", "user %s has unknown segment %q", u.UserID, u.Segment)
		}
		segments[i] = seg
	}

	run := &sessionWriter{profile: g.profile, hours: hourDistribution(g.profile.HourWeights)}
	start = truncateDay(start)
	perUser := make([][]Event, len(users))

	if g.workers <= 1 {
		for i, u := range users {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			perUser[i] = run.userEvents(g.src.stream(eventStream, userStreamKey(u.UserID)), u, segments[i], start, days)
		}
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(g.workers)
		for i, u := range users {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				perUser[i] = run.userEvents(g.src.stream(eventStream, userStreamKey(u.UserID)), u, segments[i], start, days)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("generate events: %w", err)
		}
	}

	total := 0
	for _, evs := range perUser {
		total += len(evs)
	}
	events := make([]Event, 0, total)
	for _, evs := range perUser {
		events = append(events, evs...)
	}
	return events, nil
}

func hourDistribution(weights [24]float64) Categorical[int] {
	out := make(Categorical[int], 0, len(weights))
	for h, w := range weights {
		out = append(out, Choice[int]{Value: h, Weight: w})
	}
	return out
}

// sessionWriter holds the read-only state shared by all users of a run.
type sessionWriter struct {
	profile Profile
	hours   Categorical[int]
}

func (w *sessionWriter) userEvents(r *rand.Rand, u User, seg SegmentProfile, start time.Time, days int) []Event {
	var out []Event
	for d := range days {
		date := start.AddDate(0, 0, d)
		sessions := uniformInt(r, seg.MinSessionsPerDay, seg.MaxSessionsPerDay)
		for s := range sessions {
			out = w.appendSession(out, r, u, seg, SessionKey{UserID: u.UserID, Date: date, Ordinal: s})
		}
	}
	return out
}

// visit is an event before it is placed on the clock.
type visit struct {
	category string
	page     string
	dwell    int
	offset   int
	kind     EventType
	revenue  float64
}

func (w *sessionWriter) appendSession(out []Event, r *rand.Rand, u User, seg SegmentProfile, key SessionKey) []Event {
	p := w.profile
	length := seg.Length.draw(r)
	visits := make([]visit, 0, length+1)

	offset := 0
	eligible := false
	prev := ""
	for i := range length {
		var category string
		if i == 0 {
			category = p.EntryPages.Draw(r)
		} else {
			category = seg.Categories.Draw(r)
		}
		page := w.pageName(r, category, prev)
		dwell := p.Dwell[category].draw(r)
		visits = append(visits, visit{category: category, page: page, dwell: dwell, offset: offset, kind: EventPageView})
		offset += dwell + uniformInt(r, p.Gap.Min, p.Gap.Max)
		eligible = eligible || p.converts(category)
		prev = page
	}
	span := visits[len(visits)-1].offset
	if eligible && r.Float64() < p.ConversionRate {
		visits = append(visits, visit{
			category: CategoryCheckout,
			page:     conversionPage,
			offset:   offset,
			kind:     EventConversion,
			revenue:  roundCents(p.Revenue.Min + r.Float64()*(p.Revenue.Max-p.Revenue.Min)),
		})
		span = offset
	}

	// Start on the drawn hour but never let the session spill into the next day.
	startSec := w.hours.Draw(r)*3600 + r.IntN(3600)
	startSec = min(startSec, maxSessionSeconds-span)
	begin := key.Date.Add(time.Duration(startSec) * time.Second)

	sessionID := key.String()
	bounce := len(visits) == 1
	for i, v := range visits {
		out = append(out, Event{
			EventID:      EventKey{Session: key, Ordinal: i}.String(),
			SessionID:    sessionID,
			UserID:       u.UserID,
			Timestamp:    begin.Add(time.Duration(v.offset) * time.Second),
			EventType:    v.kind,
			PageCategory: v.category,
			PageName:     v.page,
			TimeOnPage:   v.dwell,
			Bounce:       bounce,
			DeviceType:   u.DeviceType,
			Country:      u.Country,
			Referrer:     u.Referrer,
			Segment:      u.Segment,
			Revenue:      v.revenue,
		})
	}
	return out
}

// pageName draws a page within category, never repeating prev.
func (w *sessionWriter) pageName(r *rand.Rand, category, prev string) string {
	n := w.profile.PagesPerCategory
	i := 1 + r.IntN(n)
	name := fmt.Sprintf("%s_page_%d", category, i)
	if name == prev {
		name = fmt.Sprintf("%s_page_%d", category, i%n+1)
	}
	return name
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
