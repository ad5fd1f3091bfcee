package domain

const (
	DefaultUpcomingHorizonDays = 14
	MaxUpcomingHorizonDays     = 366
)

// Settings represents user configurable options. A zero value in either field
// means the deployment default; a horizon of zero days cannot be stored.
type Settings struct {
	UpcomingHorizonDays int `json:"upcomingHorizonDays"`
	PageSize            int `json:"pageSize"`
}

// WithDefaults fills unset values from d, falling back to
// DefaultUpcomingHorizonDays when d leaves the horizon unset too.
func (s Settings) WithDefaults(d Settings) Settings {
	if s.UpcomingHorizonDays <= 0 {
		s.UpcomingHorizonDays = d.UpcomingHorizonDays
	}
	if s.UpcomingHorizonDays <= 0 {
		s.UpcomingHorizonDays = DefaultUpcomingHorizonDays
	}
	if s.PageSize <= 0 {
		s.PageSize = d.PageSize
	}
	return s
}

// Validate rejects out of range values. Zero is accepted and reads back as the
// default.
func (s Settings) Validate() error {
	if s.UpcomingHorizonDays < 0 || s.UpcomingHorizonDays > MaxUpcomingHorizonDays {
		return &ValidationError{Field: "upcomingHorizonDays", Reason: "must be between 0 and 366"}
	}
	if s.PageSize < 0 {
		return &ValidationError{Field: "pageSize", Reason: "must not be negative"}
	}
	return nil
}
