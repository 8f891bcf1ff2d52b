package booking

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

const (
	TopicAppointmentBooked        = "scheduling.appointment.booked.v1"
	TopicAppointmentCancelled     = "scheduling.appointment.cancelled.v1"
	TopicAppointmentStatusChanged = "scheduling.appointment.status_changed.v1"
)

// AppointmentEvent is the JSON payload of every appointment lifecycle topic.
type AppointmentEvent struct {
	AppointmentID  string    `json:"appointmentId"`
	OrganizationID string    `json:"organizationId"`
	ProfessionalID string    `json:"professionalId"`
	PatientID      string    `json:"patientId"`
	ServiceID      string    `json:"serviceId,omitempty"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func newEvent(topic string, appt model.Appointment, previous model.AppointmentStatus, at time.Time) (outbox.Event, error) {
	payload, err := json.Marshal(AppointmentEvent{
		AppointmentID:  appt.ID,
		OrganizationID: appt.OrganizationID,
		ProfessionalID: appt.ProfessionalID,
		PatientID:      appt.PatientID,
		ServiceID:      appt.ServiceID,
		StartTime:      appt.Start.UTC(),
		EndTime:        appt.End.UTC(),
		Status:         string(appt.Status),
		PreviousStatus: string(previous),
		Reason:         appt.CancelReason,
		OccurredAt:     at.UTC(),
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType:  "appointment",
		AggregateID:    appt.ID,
		OrganizationID: appt.OrganizationID,
		EventType:      topic,
		Payload:        payload,
	}, nil
}
