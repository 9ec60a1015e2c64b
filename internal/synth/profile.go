package synth

import (
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
)

// Segment is a behavioral cohort.
type Segment string

const (
	SegmentPower   Segment = "power_user"
	SegmentRegular Segment = "regular_user"
	SegmentCasual  Segment = "casual_user"
)

// Page categories used by the default profile.
const (
	CategoryLanding  = "landing"
	CategoryHome     = "home"
	CategoryProduct  = "product"
	CategorySearch   = "search"
	CategoryAccount  = "account"
	CategoryCheckout = "checkout"
	CategorySupport  = "support"
)

// Conversion events always land on this page.
const conversionPage = "order_complete"

const (
	secondsPerDay     = 24 * 60 * 60
	weightTolerance   = 1e-6
	minPagesPerCateg  = 2
	maxSessionSeconds = secondsPerDay - 1
)

// SessionLength describes how many page views a session holds. With
// probability BounceProbability the session is a single page view,
// otherwise the count is uniform in [Min, Max].
type SessionLength struct {
	Min               int     `yaml:"min" json:"min"`
	Max               int     `yaml:"max" json:"max"`
	BounceProbability float64 `yaml:"bounce_probability" json:"bounce_probability"`
}

func (l SessionLength) draw(r *rand.Rand) int {
	if r.Float64() < l.BounceProbability {
		return 1
	}
	return uniformInt(r, l.Min, l.Max)
}

// SegmentProfile holds the behavior of one segment.
type SegmentProfile struct {
	Segment           Segment             `yaml:"segment" json:"segment"`
	Weight            float64             `yaml:"weight" json:"weight"`
	MinSessionsPerDay int                 `yaml:"min_sessions_per_day" json:"min_sessions_per_day"`
	MaxSessionsPerDay int                 `yaml:"max_sessions_per_day" json:"max_sessions_per_day"`
	Length            SessionLength       `yaml:"length" json:"length"`
	Categories        Categorical[string] `yaml:"categories" json:"categories"`
}

// Dwell bounds the time-on-page distribution of a category. Draws are
// exponential around Mean and capped at Max seconds.
type Dwell struct {
	Mean int `yaml:"mean" json:"mean"`
	Max  int `yaml:"max" json:"max"`
}

func (d Dwell) draw(r *rand.Rand) int {
	v := 1 + int(r.ExpFloat64()*float64(d.Mean-1))
	return min(v, d.Max)
}

// Range is an inclusive numeric interval.
type Range[T int | float64] struct {
	Min T `yaml:"min" json:"min"`
	Max T `yaml:"max" json:"max"`
}

// Profile is the full generative configuration. It is treated as an
// immutable value: generators never modify it, and the With* helpers return
// modified copies.
type Profile struct {
	Segments             []SegmentProfile    `yaml:"segments" json:"segments"`
	Devices              Categorical[string] `yaml:"devices" json:"devices"`
	Countries            Categorical[string] `yaml:"countries" json:"countries"`
	Referrers            Categorical[string] `yaml:"referrers" json:"referrers"`
	EntryPages           Categorical[string] `yaml:"entry_pages" json:"entry_pages"`
	PagesPerCategory     int                 `yaml:"pages_per_category" json:"pages_per_category"`
	Dwell                map[string]Dwell    `yaml:"dwell" json:"dwell"`
	HourWeights          [24]float64         `yaml:"hour_weights" json:"hour_weights"`
	Gap                  Range[int]          `yaml:"gap_seconds" json:"gap_seconds"`
	ConversionRate       float64             `yaml:"conversion_rate" json:"conversion_rate"`
	ConvertingCategories []string            `yaml:"converting_categories" json:"converting_categories"`
	Revenue              Range[float64]      `yaml:"revenue" json:"revenue"`
	AcquisitionDays      Range[int]          `yaml:"acquisition_days" json:"acquisition_days"`
}

// DefaultProfile returns a fresh copy of the built-in behavior model.
func DefaultProfile() Profile {
	return Profile{
		Segments: []SegmentProfile{
			{
				Segment:           SegmentPower,
				Weight:            0.10,
				MinSessionsPerDay: 3,
				MaxSessionsPerDay: 8,
				Length:            SessionLength{Min: 10, Max: 30, BounceProbability: 0.02},
				Categories: Categorical[string]{
					{CategoryProduct, 0.30}, {CategorySearch, 0.30}, {CategoryAccount, 0.20},
					{CategoryCheckout, 0.15}, {CategorySupport, 0.05},
				},
			},
			{
				Segment:           SegmentRegular,
				Weight:            0.60,
				MinSessionsPerDay: 1,
				MaxSessionsPerDay: 3,
				Length:            SessionLength{Min: 3, Max: 10, BounceProbability: 0.15},
				Categories:        browsingCategories(),
			},
			{
				Segment:           SegmentCasual,
				Weight:            0.30,
				MinSessionsPerDay: 0,
				MaxSessionsPerDay: 2,
				Length:            SessionLength{Min: 1, Max: 5, BounceProbability: 0.45},
				Categories:        browsingCategories(),
			},
		},
		Devices: Categorical[string]{{"mobile", 0.5}, {"desktop", 0.4}, {"tablet", 0.1}},
		Countries: Categorical[string]{
			{"US", 0.40}, {"UK", 0.15}, {"CA", 0.10}, {"DE", 0.10},
			{"FR", 0.10}, {"JP", 0.10}, {"AU", 0.05},
		},
		Referrers: Categorical[string]{
			{"google", 0.3}, {"facebook", 0.2}, {"direct", 0.3}, {"email", 0.1}, {"other", 0.1},
		},
		EntryPages: Categorical[string]{
			{CategoryLanding, 0.35}, {CategoryHome, 0.35}, {CategorySearch, 0.15}, {CategoryProduct, 0.15},
		},
		PagesPerCategory: 10,
		Dwell: map[string]Dwell{
			CategoryLanding:  {Mean: 20, Max: 120},
			CategoryHome:     {Mean: 15, Max: 120},
			CategoryProduct:  {Mean: 90, Max: 600},
			CategorySearch:   {Mean: 30, Max: 180},
			CategoryAccount:  {Mean: 45, Max: 300},
			CategoryCheckout: {Mean: 40, Max: 240},
			CategorySupport:  {Mean: 60, Max: 400},
		},
		// Morning, midday and evening peaks over a low night floor.
		HourWeights: [24]float64{
			0.4, 0.2, 0.1, 0.1, 0.1, 0.2, 0.6, 1.5, 2.5, 3.2, 3.0, 3.0,
			3.6, 3.4, 2.8, 2.6, 2.6, 2.8, 3.2, 3.8, 4.0, 3.4, 2.0, 1.0,
		},
		Gap:                  Range[int]{Min: 1, Max: 15},
		ConversionRate:       0.10,
		ConvertingCategories: []string{CategoryProduct, CategoryCheckout},
		Revenue:              Range[float64]{Min: 10, Max: 500},
		AcquisitionDays:      Range[int]{Min: 30, Max: 365},
	}
}

func browsingCategories() Categorical[string] {
	return Categorical[string]{
		{CategoryProduct, 0.40}, {CategorySearch, 0.30}, {CategoryAccount, 0.10},
		{CategoryCheckout, 0.10}, {CategorySupport, 0.10},
	}
}

// WithSegmentWeights returns a copy of p with the population weights
// replaced. Every segment of p must be present in weights.
func (p Profile) WithSegmentWeights(weights map[Segment]float64) (Profile, error) {
	out := p.clone()
	for i := range out.Segments {
		w, ok := weights[out.Segments[i].Segment]
		if !ok {
			return Profile{}, configErrorf("segment_weights", "missing weight for %s", out.Segments[i].Segment)
		}
		out.Segments[i].Weight = w
	}
	if len(weights) != len(out.Segments) {
		return Profile{}, configErrorf("segment_weights", "unknown segment in %v", slices.Sorted(maps.Keys(weights)))
	}
	return out, nil
}

// WithConversionRate returns a copy of p using rate.
func (p Profile) WithConversionRate(rate float64) Profile {
	out := p.clone()
	out.ConversionRate = rate
	return out
}

// SegmentWeights returns the population weight of each segment.
func (p Profile) SegmentWeights() map[Segment]float64 {
	out := make(map[Segment]float64, len(p.Segments))
	for _, s := range p.Segments {
		out[s.Segment] = s.Weight
	}
	return out
}

func (p Profile) clone() Profile {
	out := p
	out.Segments = make([]SegmentProfile, len(p.Segments))
	for i, s := range p.Segments {
		s.Categories = slices.Clone(s.Categories)
		out.Segments[i] = s
	}
	out.Devices = slices.Clone(p.Devices)
	out.Countries = slices.Clone(p.Countries)
	out.Referrers = slices.Clone(p.Referrers)
	out.EntryPages = slices.Clone(p.EntryPages)
	out.Dwell = maps.Clone(p.Dwell)
	out.ConvertingCategories = slices.Clone(p.ConvertingCategories)
	return out
}

func (p Profile) segment(s Segment) (SegmentProfile, bool) {
	for _, sp := range p.Segments {
		if sp.Segment == s {
			return sp, true
		}
	}
	return SegmentProfile{}, false
}

func (p Profile) segmentDistribution() Categorical[Segment] {
	out := make(Categorical[Segment], 0, len(p.Segments))
	for _, s := range p.Segments {
		out = append(out, Choice[Segment]{Value: s.Segment, Weight: s.Weight})
	}
	return out
}

func (p Profile) converts(category string) bool {
	return slices.Contains(p.ConvertingCategories, category)
}

// Validate checks the profile for internal consistency.
func (p Profile) Validate() error {
	if len(p.Segments) == 0 {
		return configErrorf("segments", "at least one segment is required")
	}
	var sum float64
	seen := make(map[Segment]bool, len(p.Segments))
	for _, s := range p.Segments {
		if seen[s.Segment] {
			return configErrorf("segments", "duplicate segment %s", s.Segment)
		}
		seen[s.Segment] = true
		if s.Weight < 0 {
			return configErrorf("segment_weights", "negative weight for %s", s.Segment)
		}
		sum += s.Weight
		if s.MinSessionsPerDay < 0 || s.MaxSessionsPerDay < s.MinSessionsPerDay {
			return configErrorf("sessions_per_day", "%s range [%d, %d] is invalid", s.Segment, s.MinSessionsPerDay, s.MaxSessionsPerDay)
		}
		if s.Length.Min < 1 || s.Length.Max < s.Length.Min {
			return configErrorf("session_length", "%s range [%d, %d] is invalid", s.Segment, s.Length.Min, s.Length.Max)
		}
		if !isProbability(s.Length.BounceProbability) {
			return configErrorf("session_length", "%s bounce probability %v outside [0, 1]", s.Segment, s.Length.BounceProbability)
		}
		if err := s.Categories.validate(fmt.Sprintf("categories[%s]", s.Segment)); err != nil {
			return err
		}
	}
	if math.Abs(sum-1) > weightTolerance {
		return configErrorf("segment_weights", "weights sum to %v, want 1.0", sum)
	}

	for field, dist := range map[string]Categorical[string]{
		"devices":     p.Devices,
		"countries":   p.Countries,
		"referrers":   p.Referrers,
		"entry_pages": p.EntryPages,
	} {
		if err := dist.validate(field); err != nil {
			return err
		}
	}
	if p.PagesPerCategory < minPagesPerCateg {
		return configErrorf("pages_per_category", "need at least %d, got %d", minPagesPerCateg, p.PagesPerCategory)
	}

	var hours float64
	for _, w := range p.HourWeights {
		if w < 0 {
			return configErrorf("hour_weights", "negative weight %v", w)
		}
		hours += w
	}
	if hours <= 0 {
		return configErrorf("hour_weights", "weights sum to zero")
	}

	if p.Gap.Min < 1 || p.Gap.Max < p.Gap.Min {
		return configErrorf("gap_seconds", "range [%d, %d] is invalid", p.Gap.Min, p.Gap.Max)
	}
	if !isProbability(p.ConversionRate) {
		return configErrorf("conversion_rate", "%v outside [0, 1]", p.ConversionRate)
	}
	if p.Revenue.Min < 0 || p.Revenue.Max < p.Revenue.Min {
		return configErrorf("revenue", "range [%v, %v] is invalid", p.Revenue.Min, p.Revenue.Max)
	}
	if p.AcquisitionDays.Min < 0 || p.AcquisitionDays.Max < p.AcquisitionDays.Min {
		return configErrorf("acquisition_days", "range [%d, %d] is invalid", p.AcquisitionDays.Min, p.AcquisitionDays.Max)
	}

	return p.validateDwell()
}

// validateDwell requires a dwell entry for every reachable category and that
// the longest possible session still fits inside one day.
func (p Profile) validateDwell() error {
	reachable := slices.Clone(p.EntryPages.Values())
	maxLength := 0
	for _, s := range p.Segments {
		reachable = append(reachable, s.Categories.Values()...)
		maxLength = max(maxLength, s.Length.Max)
	}
	longest := 0
	for _, category := range reachable {
		d, ok := p.Dwell[category]
		if !ok {
			return configErrorf("dwell", "no dwell time for category %q", category)
		}
		if d.Mean < 1 || d.Max < d.Mean {
			return configErrorf("dwell", "%s mean %d max %d is invalid", category, d.Mean, d.Max)
		}
		longest = max(longest, d.Max)
	}
	// A converted session's last event sits after every page view's dwell and gap.
	if span := maxLength * (longest + p.Gap.Max); span > maxSessionSeconds {
		return configErrorf("session_length", "longest session spans %ds, more than a day", span)
	}
	return nil
}

func isProbability(v float64) bool {
	return v >= 0 && v <= 1
}
