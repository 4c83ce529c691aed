package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopcal/shopcal/libs/notify"
	"github.com/shopcal/shopcal/services/booking-service/internal/reminders"
)

// ReminderDispatcher sends a reminder on every channel the contact has. One
// accepted channel is enough for the reminder to count as sent.
type ReminderDispatcher struct {
	email notify.EmailSender
	sms   notify.SMSSender
}

func NewReminderDispatcher(email notify.EmailSender, sms notify.SMSSender) *ReminderDispatcher {
	return &ReminderDispatcher{email: email, sms: sms}
}

var ErrNoChannel = errors.New("appointment has no email or phone to remind")

func (d *ReminderDispatcher) SendReminder(ctx context.Context, kind reminders.Kind, c reminders.Candidate) error {
	if !c.Contact.Reachable() {
		return ErrNoChannel
	}
	subject, body := reminderText(kind, c)

	var errs []error
	delivered := 0
	if c.Contact.Email != "" && d.email != nil {
		if err := d.email.SendEmail(ctx, notify.Email{To: c.Contact.Email, Subject: subject, Body: body}); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			delivered++
		}
	}
	if c.Contact.Phone != "" && d.sms != nil {
		if err := d.sms.SendSMS(ctx, c.Contact.Phone, body); err != nil {
			errs = append(errs, fmt.Errorf("sms: %w", err))
		} else {
			delivered++
		}
	}
	if delivered > 0 {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}

func reminderText(kind reminders.Kind, c reminders.Candidate) (subject, body string) {
	loc := time.UTC
	if c.Timezone != "" {
		if l, err := time.LoadLocation(c.Timezone); err == nil {
			loc = l
		}
	}
	when := c.Appointment.StartTime.In(loc).Format("Mon Jan 2 at 15:04 MST")
	what := "appointment"
	if c.ServiceName != "" {
		what = c.ServiceName + " appointment"
	}

	switch kind {
	case reminders.Kind2Hour:
		subject = "Your appointment is in 2 hours"
	default:
		subject = "Your appointment is tomorrow"
	}
	name := c.Contact.Name
	if name == "" {
		name = "there"
	}
	return subject, fmt.Sprintf("Hi %s, this is a reminder of your %s on %s.", name, what, when)
}
