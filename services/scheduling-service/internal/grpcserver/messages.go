package grpcserver

import "github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"

type GetAvailableSlotsRequest struct {
	ProfessionalID  string `json:"professionalId"`
	ServiceID       string `json:"serviceId,omitempty"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

type BusinessHoursWindow struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type GetAvailableSlotsResponse struct {
	Date            string               `json:"date"`
	ProfessionalID  string               `json:"professionalId"`
	DurationMinutes int                  `json:"durationMinutes"`
	BusinessHours   *BusinessHoursWindow `json:"businessHours"`
	BookedSlots     []string             `json:"bookedSlots"`
	AvailableSlots  []model.TimeSlot     `json:"availableSlots"`
}

type BookAppointmentRequest struct {
	PatientID      string `json:"patientId"`
	ProfessionalID string `json:"professionalId"`
	ServiceID      string `json:"serviceId,omitempty"`
	Date           string `json:"date"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type CancelAppointmentRequest struct {
	AppointmentID string `json:"appointmentId"`
	Reason        string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	Appointment model.Appointment `json:"appointment"`
}
