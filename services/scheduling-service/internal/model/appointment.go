package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Occupies reports whether an appointment in this status blocks the calendar.
func (s AppointmentStatus) Occupies() bool {
	return s != StatusCancelled
}

type Appointment struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	ProfessionalID string            `json:"professionalId"`
	PatientID      string            `json:"patientId"`
	ServiceID      string            `json:"serviceId,omitempty"`
	Start          time.Time         `json:"startTime"`
	End            time.Time         `json:"endTime"`
	Status         AppointmentStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	CancelReason   string            `json:"cancelReason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Overlaps applies the half-open rule: [a.start,a.end) and [start,end) share an instant.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}
