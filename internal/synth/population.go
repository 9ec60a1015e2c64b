package synth

import "time"

// User is a synthetic visitor. Its attributes are fixed at creation.
type User struct {
	UserID          string    `json:"user_id"`
	Segment         Segment   `json:"segment"`
	DeviceType      string    `json:"device_type"`
	Country         string    `json:"country"`
	Referrer        string    `json:"referrer"`
	AcquisitionDate time.Time `json:"acquisition_date"`
}

// PopulationGenerator assigns users to segments and draws their static
// attributes.
type PopulationGenerator struct {
	profile Profile
	src     Source
	anchor  time.Time
}

// NewPopulationGenerator returns a generator drawing from src. Acquisition
// dates are placed before anchor, normally the first generated day.
func NewPopulationGenerator(profile Profile, src Source, anchor time.Time) *PopulationGenerator {
	return &PopulationGenerator{profile: profile, src: src, anchor: truncateDay(anchor)}
}

// Generate produces numUsers users named user_0001 onwards.
func (g *PopulationGenerator) Generate(numUsers int) ([]User, error) {
	return g.GenerateRange(numUsers, 0, numUsers)
}

// GenerateRange produces users [lo, hi) of a population of numUsers. The
// result equals the same slice of Generate(numUsers).
func (g *PopulationGenerator) GenerateRange(numUsers, lo, hi int) ([]User, error) {
	if numUsers <= 0 {
		return nil, configErrorf("num_users", "must be positive, got %d", numUsers)
	}
	if lo < 0 || hi > numUsers || lo > hi {
		return nil, configErrorf("user_range", "[%d, %d) outside population of %d", lo, hi, numUsers)
	}
	if err := g.profile.Validate(); err != nil {
		return nil, err
	}

	segments := g.profile.segmentDistribution()
	acq := g.profile.AcquisitionDays
	users := make([]User, 0, hi-lo)
	for i := lo; i < hi; i++ {
		r := g.src.stream(populationStream, uint64(i))
		users = append(users, User{
			UserID:          FormatUserID(i, numUsers),
			Segment:         segments.Draw(r),
			Country:         g.profile.Countries.Draw(r),
			DeviceType:      g.profile.Devices.Draw(r),
			Referrer:        g.profile.Referrers.Draw(r),
			AcquisitionDate: g.anchor.AddDate(0, 0, -uniformInt(r, acq.Min, acq.Max)),
		})
	}
	return users, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
