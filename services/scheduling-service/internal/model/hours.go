package model

import "time"

// BusinessHours is an organization's bookable window for one weekday.
type BusinessHours struct {
	OrganizationID string       `json:"organizationId"`
	Weekday        time.Weekday `json:"weekday"`
	Start          Clock        `json:"-"`
	End            Clock        `json:"-"`
	Enabled        bool         `json:"enabled"`
}

// Open reports whether h describes a non-empty window.
func (h *BusinessHours) Open() bool {
	return h != nil && h.Enabled && h.Start < h.End
}

// Contains reports whether [start, end) on the same day fits inside the window.
func (h *BusinessHours) Contains(start, end Clock) bool {
	return h.Open() && start >= h.Start && end <= h.End
}

func (h *BusinessHours) Valid() bool {
	if h == nil {
		return false
	}
	if h.Weekday < time.Sunday || h.Weekday > time.Saturday {
		return false
	}
	if h.Start < 0 || h.End > MinutesPerDay {
		return false
	}
	return !h.Enabled || h.Start < h.End
}
