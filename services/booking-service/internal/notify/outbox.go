package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopcal/shopcal/libs/events"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopcal/shopcal/services/booking-service/internal/outbox"
)

type ContactResolver interface {
	Contact(ctx context.Context, a model.Appointment) (model.Contact, error)
}

// OutboxNotifier turns booking and status changes into outbox events that
// the notification service delivers.
type OutboxNotifier struct {
	db       outbox.Execer
	repo     *outbox.Repository
	contacts ContactResolver
	now      func() time.Time
}

func NewOutboxNotifier(db outbox.Execer, repo *outbox.Repository, contacts ContactResolver) *OutboxNotifier {
	return &OutboxNotifier{db: db, repo: repo, contacts: contacts, now: time.Now}
}

func (n *OutboxNotifier) AppointmentBooked(ctx context.Context, a model.Appointment) error {
	return n.publish(ctx, events.TopicAppointmentBooked, a, "")
}

func (n *OutboxNotifier) StatusChanged(ctx context.Context, a model.Appointment, from model.Status) error {
	return n.publish(ctx, events.TopicAppointmentStatusChanged, a, from)
}

func (n *OutboxNotifier) publish(ctx context.Context, topic string, a model.Appointment, from model.Status) error {
	contact, err := n.contacts.Contact(ctx, a)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(AppointmentEvent(a, contact, from, n.now()))
	if err != nil {
		return err
	}
	return n.repo.Insert(ctx, n.db, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     topic,
		Payload:       payload,
	})
}

func AppointmentEvent(a model.Appointment, c model.Contact, from model.Status, at time.Time) events.Appointment {
	return events.Appointment{
		AppointmentID:  a.ID,
		ShopID:         a.ShopID,
		StaffID:        a.StaffID,
		ServiceID:      a.ServiceID,
		Status:         string(a.Status),
		PreviousStatus: string(from),
		StartTime:      a.StartTime.UTC(),
		EndTime:        a.EndTime.UTC(),
		Contact:        events.Contact{Name: c.Name, Email: c.Email, Phone: c.Phone},
		OccurredAt:     at.UTC(),
	}
}
