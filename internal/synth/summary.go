package synth

import (
	"cmp"
	"maps"
	"slices"
	"time"
)

// Summary is the run report: totals plus the distributions worth eyeballing
// after a run. Summaries of disjoint user shards merge into the summary of
// the whole population.
type Summary struct {
	Seed        uint64          `json:"seed"`
	Users       int             `json:"users"`
	ActiveUsers int             `json:"active_users"`
	Sessions    int             `json:"sessions"`
	Events      int             `json:"events"`
	PageViews   int             `json:"page_views"`
	Conversions int             `json:"conversions"`
	Bounces     int             `json:"bounces"`
	Revenue     float64         `json:"revenue"`
	DailyRows   int             `json:"daily_rows"`
	FirstDate   time.Time       `json:"first_date"`
	LastDate    time.Time       `json:"last_date"`
	Segments    map[Segment]int `json:"segments"`
	Devices     map[string]int  `json:"devices"`
	Pages       map[string]int  `json:"pages"`
}

// PageCount is a page name and its number of views.
type PageCount struct {
	Page  string `json:"page"`
	Count int    `json:"count"`
}

// Summarize builds the report of one generated population.
func Summarize(seed uint64, users []User, events []Event, agg Aggregates) Summary {
	s := Summary{
		Seed:      seed,
		Users:     len(users),
		Sessions:  len(agg.Sessions),
		Events:    len(events),
		DailyRows: len(agg.Daily),
		Segments:  make(map[Segment]int),
		Devices:   make(map[string]int),
		Pages:     make(map[string]int),
	}
	for _, u := range users {
		s.Segments[u.Segment]++
	}
	active := make(map[string]struct{})
	for _, e := range events {
		active[e.UserID] = struct{}{}
		s.Devices[e.DeviceType]++
		if e.EventType == EventConversion {
			s.Conversions++
			s.Revenue = roundCents(s.Revenue + e.Revenue)
		} else {
			s.PageViews++
			s.Pages[e.PageName]++
		}
		day := e.Date()
		if s.FirstDate.IsZero() || day.Before(s.FirstDate) {
			s.FirstDate = day
		}
		if day.After(s.LastDate) {
			s.LastDate = day
		}
	}
	s.ActiveUsers = len(active)
	for _, sm := range agg.Sessions {
		if sm.Bounce {
			s.Bounces++
		}
	}
	return s
}

// Merge combines summaries of disjoint user shards.
func (s Summary) Merge(o Summary) Summary {
	out := s
	out.Users += o.Users
	out.ActiveUsers += o.ActiveUsers
	out.Sessions += o.Sessions
	out.Events += o.Events
	out.PageViews += o.PageViews
	out.Conversions += o.Conversions
	out.Bounces += o.Bounces
	out.Revenue = roundCents(s.Revenue + o.Revenue)
	out.DailyRows += o.DailyRows
	if out.FirstDate.IsZero() || (!o.FirstDate.IsZero() && o.FirstDate.Before(out.FirstDate)) {
		out.FirstDate = o.FirstDate
	}
	if o.LastDate.After(out.LastDate) {
		out.LastDate = o.LastDate
	}
	out.Segments = mergeCounts(s.Segments, o.Segments)
	out.Devices = mergeCounts(s.Devices, o.Devices)
	out.Pages = mergeCounts(s.Pages, o.Pages)
	return out
}

func mergeCounts[K comparable](a, b map[K]int) map[K]int {
	out := maps.Clone(a)
	if out == nil {
		out = make(map[K]int, len(b))
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

// TopPages returns the n most viewed pages, ties broken by name.
func (s Summary) TopPages(n int) []PageCount {
	out := make([]PageCount, 0, len(s.Pages))
	for page, count := range s.Pages {
		out = append(out, PageCount{Page: page, Count: count})
	}
	slices.SortFunc(out, func(a, b PageCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Page, b.Page))
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ConversionRate is conversions per session.
func (s Summary) ConversionRate() float64 {
	if s.Sessions == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Sessions)
}
