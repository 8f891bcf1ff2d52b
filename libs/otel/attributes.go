package otelx

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by the scheduling services.
const (
	OrganizationIDKey    = attribute.Key("organization.id")
	ProfessionalIDKey    = attribute.Key("professional.id")
	AppointmentIDKey     = attribute.Key("appointment.id")
	AppointmentStatusKey = attribute.Key("appointment.status")
)

// Tenant tags a span with the organization and, when known, the professional.
func Tenant(organizationID, professionalID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{OrganizationIDKey.String(organizationID)}
	if professionalID != "" {
		attrs = append(attrs, ProfessionalIDKey.String(professionalID))
	}
	return attrs
}

// KafkaConsume describes a consumed message.
func KafkaConsume(topic string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "process"),
	}
}
