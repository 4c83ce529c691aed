package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopcal/shopcal/libs/events"
	"github.com/shopcal/shopcal/libs/notify"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopcal/shopcal/services/booking-service/internal/outbox"
	"github.com/shopcal/shopcal/services/booking-service/internal/reminders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmail struct {
	sent []notify.Email
	err  error
}

func (f *fakeEmail) SendEmail(_ context.Context, msg notify.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) ProviderID() string { return "fake" }

func (f *fakeSMS) SendSMS(_ context.Context, to, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func candidate(email, phone string) reminders.Candidate {
	return reminders.Candidate{
		Appointment: model.Appointment{ID: "a1", StartTime: time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC)},
		Contact:     model.Contact{Name: "Grace", Email: email, Phone: phone},
		ServiceName: "Haircut",
		Timezone:    "UTC",
	}
}

func TestReminderDispatcher_AllChannels(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	d := NewReminderDispatcher(email, sms)

	require.NoError(t, d.SendReminder(context.Background(), reminders.Kind24Hour, candidate("g@example.com", "+15550100")))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "Your appointment is tomorrow", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "Haircut appointment on Mon May 11 at 14:00 UTC")
	assert.Equal(t, []string{"+15550100"}, sms.sent)
}

func TestReminderDispatcher_OneChannelIsEnough(t *testing.T) {
	email, sms := &fakeEmail{err: errors.New("smtp down")}, &fakeSMS{}
	d := NewReminderDispatcher(email, sms)
	assert.NoError(t, d.SendReminder(context.Background(), reminders.Kind2Hour, candidate("g@example.com", "+15550100")))

	sms.err = errors.New("gateway down")
	err := d.SendReminder(context.Background(), reminders.Kind2Hour, candidate("g@example.com", "+15550100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "gateway down")
}

func TestReminderDispatcher_NoContact(t *testing.T) {
	d := NewReminderDispatcher(&fakeEmail{}, &fakeSMS{})
	assert.ErrorIs(t, d.SendReminder(context.Background(), reminders.Kind24Hour, candidate("", "")), ErrNoChannel)

	emailOnly := NewReminderDispatcher(&fakeEmail{}, nil)
	assert.ErrorIs(t, emailOnly.SendReminder(context.Background(), reminders.Kind24Hour, candidate("", "+15550100")), ErrNoChannel)
}

type captureExec struct {
	sql  string
	args []any
}

func (c *captureExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql, c.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

type staticContacts struct{ c model.Contact }

func (s staticContacts) Contact(context.Context, model.Appointment) (model.Contact, error) {
	return s.c, nil
}

func TestOutboxNotifier_StatusChanged(t *testing.T) {
	exec := &captureExec{}
	n := NewOutboxNotifier(exec, outbox.NewRepository(), staticContacts{model.Contact{Name: "Ada", Email: "ada@example.com"}})
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	a := model.Appointment{
		ID: "a1", ShopID: "shop-1", ServiceID: "cut", Status: model.StatusCancelled,
		StartTime: at.Add(time.Hour), EndTime: at.Add(90 * time.Minute),
	}
	require.NoError(t, n.StatusChanged(context.Background(), a, model.StatusScheduled))

	require.Len(t, exec.args, 6)
	assert.Equal(t, "appointment", exec.args[0])
	assert.Equal(t, "a1", exec.args[1])
	assert.Equal(t, events.TopicAppointmentStatusChanged, exec.args[2])

	evt, err := events.DecodeAppointment(exec.args[3].([]byte))
	require.NoError(t, err)
	assert.Equal(t, "cancelled", evt.Status)
	assert.Equal(t, "scheduled", evt.PreviousStatus)
	assert.Equal(t, "ada@example.com", evt.Contact.Email)
	assert.True(t, evt.OccurredAt.Equal(at))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(exec.args[3].([]byte), &raw))
	assert.NotContains(t, raw, "staff_id", "unassigned appointments omit staff")
}
