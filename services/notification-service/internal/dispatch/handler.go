package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopcal/shopcal/libs/events"
	"github.com/shopcal/shopcal/libs/kafkax"
	"github.com/shopcal/shopcal/libs/notify"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Record is one delivery attempt on one channel.
type Record struct {
	EventID       string
	AppointmentID string
	ShopID        string
	Kind          string
	Channel       string
	Recipient     string
	Status        string
	ProviderID    string
	Error         string
}

type Tx interface {
	// RecordEvent reports false when the event was handled before.
	RecordEvent(ctx context.Context, eventID, eventType string) (bool, error)
	RecordNotification(ctx context.Context, r Record) error
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ErrMalformed marks messages that can never be processed. Retrying them is
// pointless.
var ErrMalformed = errors.New("malformed booking event")

type Handler struct {
	store  Store
	email  notify.EmailSender
	sms    notify.SMSSender
	logger *slog.Logger
}

func NewHandler(store Store, email notify.EmailSender, sms notify.SMSSender, logger *slog.Logger) *Handler {
	return &Handler{store: store, email: email, sms: sms, logger: logger}
}

// Handle delivers one booking event. The inbox row and the delivery records
// commit together, so a redelivered event is skipped only once its outcome
// was stored.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	// The message key is the appointment id, so only the header identifies
	// the event.
	eventID := kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID)
	if eventID == "" {
		return fmt.Errorf("%w: missing event id header", ErrMalformed)
	}
	evt, err := events.DecodeAppointment(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, subject, ok := describe(msg.Topic, evt)
	if !ok {
		h.logger.Debug("booking event needs no notification", "topic", msg.Topic, "status", evt.Status)
		return nil
	}

	return h.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.RecordEvent(ctx, eventID, msg.Topic)
		if err != nil {
			return err
		}
		if !fresh {
			h.logger.Info("duplicate event ignored", "event_id", eventID, "topic", msg.Topic)
			return nil
		}

		body := messageBody(kind, evt)
		for _, rec := range h.deliver(ctx, evt, subject, body) {
			rec.EventID = eventID
			rec.AppointmentID = evt.AppointmentID
			rec.ShopID = evt.ShopID
			rec.Kind = kind
			if err := tx.RecordNotification(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Handler) deliver(ctx context.Context, evt events.Appointment, subject, body string) []Record {
	var out []Record
	if to := evt.Contact.Email; to != "" {
		rec := Record{Channel: ChannelEmail, Recipient: to, Status: StatusSent, ProviderID: "smtp"}
		if err := h.email.SendEmail(ctx, notify.Email{To: to, Subject: subject, Body: body}); err != nil {
			h.logger.Warn("email send failed", "appointment_id", evt.AppointmentID, "err", err)
			rec.Status, rec.ProviderID, rec.Error = StatusFailed, "", err.Error()
		}
		out = append(out, rec)
	}
	if to := evt.Contact.Phone; to != "" {
		rec := Record{Channel: ChannelSMS, Recipient: to, Status: StatusSent, ProviderID: h.sms.ProviderID()}
		if err := h.sms.SendSMS(ctx, to, body); err != nil {
			h.logger.Warn("sms send failed", "appointment_id", evt.AppointmentID, "err", err)
			rec.Status, rec.ProviderID, rec.Error = StatusFailed, "", err.Error()
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		h.logger.Warn("booking event has no contact channel", "appointment_id", evt.AppointmentID)
	}
	return out
}

// describe picks the notification kind for an event. Only bookings,
// confirmations and cancellations reach the customer.
func describe(topic string, evt events.Appointment) (kind, subject string, ok bool) {
	switch topic {
	case events.TopicAppointmentBooked:
		return "booked", "Your appointment is booked", true
	case events.TopicAppointmentStatusChanged:
		switch evt.Status {
		case "confirmed":
			return "confirmed", "Your appointment is confirmed", true
		case "cancelled":
			return "cancelled", "Your appointment was cancelled", true
		}
	}
	return "", "", false
}

func messageBody(kind string, evt events.Appointment) string {
	name := evt.Contact.Name
	if name == "" {
		name = "there"
	}
	when := evt.StartTime.UTC().Format(time.RFC1123)
	switch kind {
	case "cancelled":
		return fmt.Sprintf("Hi %s, your appointment on %s has been cancelled.", name, when)
	case "confirmed":
		return fmt.Sprintf("Hi %s, your appointment on %s is confirmed. See you then!", name, when)
	default:
		return fmt.Sprintf("Hi %s, thanks for booking. Your appointment is on %s.", name, when)
	}
}
