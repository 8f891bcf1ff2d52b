package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	EventID        string
	AggregateType  string
	AggregateID    string
	OrganizationID string
	EventType      string
	Payload        []byte
}
