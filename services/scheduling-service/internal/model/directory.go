package model

type Organization struct {
	ID       string
	Slug     string
	Timezone string
}

type Professional struct {
	ID             string
	OrganizationID string
	Name           string
	Active         bool
}

type Patient struct {
	ID             string
	OrganizationID string
}

const DefaultServiceDurationMinutes = 60

type Service struct {
	ID              string
	OrganizationID  string
	Name            string
	DurationMinutes int
}

// Duration returns the booking length in minutes, falling back to fallback when unset.
func (s Service) Duration(fallback int) int {
	if s.DurationMinutes > 0 {
		return s.DurationMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultServiceDurationMinutes
}
