package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopcal/shopcal/libs/events"
	"github.com/shopcal/shopcal/libs/kafkax"
	"github.com/shopcal/shopcal/libs/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	seen    map[string]bool
	records []Record
	failTx  error
}

func newMemStore() *memStore { return &memStore{seen: map[string]bool{}} }

// InTx applies writes only when fn succeeds.
func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.failTx != nil {
		return s.failTx
	}
	for _, id := range tx.events {
		s.seen[id] = true
	}
	s.records = append(s.records, tx.records...)
	return nil
}

type memTx struct {
	store   *memStore
	events  []string
	records []Record
}

func (t *memTx) RecordEvent(_ context.Context, eventID, _ string) (bool, error) {
	if t.store.seen[eventID] {
		return false, nil
	}
	t.events = append(t.events, eventID)
	return true, nil
}

func (t *memTx) RecordNotification(_ context.Context, r Record) error {
	t.records = append(t.records, r)
	return nil
}

type fakeEmail struct {
	sent []notify.Email
	err  error
}

func (f *fakeEmail) SendEmail(_ context.Context, m notify.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeSMS struct{ sent int }

func (f *fakeSMS) ProviderID() string { return "fake-sms" }

func (f *fakeSMS) SendSMS(context.Context, string, string) error {
	f.sent++
	return nil
}

func message(t *testing.T, topic, eventID string, evt events.Appointment) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{
		Topic:   topic,
		Value:   raw,
		Headers: kafkax.EventMeta{EventID: eventID, EventType: topic}.Headers(),
	}
}

func bookedEvent() events.Appointment {
	return events.Appointment{
		AppointmentID: "a1",
		ShopID:        "shop-1",
		ServiceID:     "cut",
		Status:        "scheduled",
		StartTime:     time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2026, 5, 11, 14, 30, 0, 0, time.UTC),
		Contact:       events.Contact{Name: "Ada", Email: "ada@example.com", Phone: "+15550100"},
	}
}

func newTestHandler(store Store, email *fakeEmail, sms *fakeSMS) *Handler {
	return NewHandler(store, email, sms, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandle_BookedSendsEveryChannel(t *testing.T) {
	store, email, sms := newMemStore(), &fakeEmail{}, &fakeSMS{}
	h := newTestHandler(store, email, sms)

	require.NoError(t, h.Handle(context.Background(), message(t, events.TopicAppointmentBooked, "e1", bookedEvent())))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "Your appointment is booked", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "Hi Ada")
	assert.Equal(t, 1, sms.sent)

	require.Len(t, store.records, 2)
	for _, r := range store.records {
		assert.Equal(t, "e1", r.EventID)
		assert.Equal(t, "booked", r.Kind)
		assert.Equal(t, StatusSent, r.Status)
	}
}

func TestHandle_DuplicateIsSkipped(t *testing.T) {
	store, email, sms := newMemStore(), &fakeEmail{}, &fakeSMS{}
	h := newTestHandler(store, email, sms)
	msg := message(t, events.TopicAppointmentBooked, "e1", bookedEvent())

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Len(t, email.sent, 1)
	assert.Len(t, store.records, 2)
}

func TestHandle_RolledBackEventIsRetried(t *testing.T) {
	store, email, sms := newMemStore(), &fakeEmail{}, &fakeSMS{}
	h := newTestHandler(store, email, sms)
	msg := message(t, events.TopicAppointmentBooked, "e1", bookedEvent())

	store.failTx = errors.New("commit failed")
	require.Error(t, h.Handle(context.Background(), msg))
	store.failTx = nil
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Len(t, store.records, 2)
}

func TestHandle_FailedChannelIsRecorded(t *testing.T) {
	store, email, sms := newMemStore(), &fakeEmail{err: errors.New("smtp down")}, &fakeSMS{}
	h := newTestHandler(store, email, sms)

	require.NoError(t, h.Handle(context.Background(), message(t, events.TopicAppointmentBooked, "e1", bookedEvent())))
	require.Len(t, store.records, 2)
	assert.Equal(t, ChannelEmail, store.records[0].Channel)
	assert.Equal(t, StatusFailed, store.records[0].Status)
	assert.Equal(t, "smtp down", store.records[0].Error)
	assert.Equal(t, StatusSent, store.records[1].Status)
	assert.Equal(t, "fake-sms", store.records[1].ProviderID)
}

func TestHandle_StatusChanges(t *testing.T) {
	store, email, sms := newMemStore(), &fakeEmail{}, &fakeSMS{}
	h := newTestHandler(store, email, sms)

	evt := bookedEvent()
	evt.Contact.Phone = ""
	evt.Status, evt.PreviousStatus = "in_progress", "confirmed"
	require.NoError(t, h.Handle(context.Background(), message(t, events.TopicAppointmentStatusChanged, "e1", evt)))
	assert.Empty(t, email.sent)

	evt.Status, evt.PreviousStatus = "cancelled", "scheduled"
	require.NoError(t, h.Handle(context.Background(), message(t, events.TopicAppointmentStatusChanged, "e2", evt)))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "Your appointment was cancelled", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "has been cancelled")
}

func TestHandle_Malformed(t *testing.T) {
	h := newTestHandler(newMemStore(), &fakeEmail{}, &fakeSMS{})

	err := h.Handle(context.Background(), kafka.Message{Topic: events.TopicAppointmentBooked, Value: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrMalformed)

	msg := message(t, events.TopicAppointmentBooked, "e1", bookedEvent())
	msg.Value = []byte(`not json`)
	assert.ErrorIs(t, h.Handle(context.Background(), msg), ErrMalformed)
}
