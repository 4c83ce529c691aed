package outbox

// Event is a row waiting in outbox_events. EventType is also the Kafka topic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
