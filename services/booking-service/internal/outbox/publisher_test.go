package outbox

import (
	"context"
	"testing"

	"github.com/shopcal/shopcal/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestToMessage(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	msg := toMessage(context.Background(), Record{
		ID:          7,
		EventID:     "0b9d5a8e-6f43-4d1e-9a51-2f0d0e7c1a11",
		AggregateID: "appt-1",
		EventType:   "booking.appointment.booked.v1",
		Payload:     []byte(`{"appointment_id":"appt-1"}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})

	if msg.Topic != "booking.appointment.booked.v1" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	if string(msg.Key) != "appt-1" {
		t.Fatalf("key = %q", msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "0b9d5a8e-6f43-4d1e-9a51-2f0d0e7c1a11" || meta.EventType != msg.Topic {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("traceparent header = %q", got)
	}
}
