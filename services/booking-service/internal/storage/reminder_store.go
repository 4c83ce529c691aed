package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopcal/shopcal/services/booking-service/internal/reminders"
)

// ReminderStore backs reminders.Scheduler. Each reminder kind has a sent
// marker column and a claim column on appointments.
type ReminderStore struct {
	pool *db.Pool
}

func NewReminderStore(pool *db.Pool) *ReminderStore {
	return &ReminderStore{pool: pool}
}

type reminderColumns struct {
	sent    string
	claimed string
}

func columnsFor(kind reminders.Kind) (reminderColumns, error) {
	switch kind {
	case reminders.Kind24Hour:
		return reminderColumns{sent: "reminder_24h_sent_at", claimed: "reminder_24h_claimed_at"}, nil
	case reminders.Kind2Hour:
		return reminderColumns{sent: "reminder_2h_sent_at", claimed: "reminder_2h_claimed_at"}, nil
	}
	return reminderColumns{}, fmt.Errorf("unknown reminder kind %q", kind)
}

func (s *ReminderStore) Due(ctx context.Context, kind reminders.Kind, from, to, claimExpiry time.Time, limit int) ([]reminders.Candidate, error) {
	cols, err := columnsFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentCols("a")+`,
			coalesce(c.name, ''), coalesce(c.email, ''), coalesce(c.phone, ''),
			coalesce(sv.name, ''), coalesce(ss.timezone, 'UTC')
		FROM appointments a
		LEFT JOIN clients c ON c.id = a.client_id AND c.shop_id = a.shop_id
		LEFT JOIN services sv ON sv.id = a.service_id AND sv.shop_id = a.shop_id
		LEFT JOIN shop_settings ss ON ss.shop_id = a.shop_id
		WHERE a.status = 'scheduled'
			AND a.deleted_at IS NULL
			AND a.start_time >= $1
			AND a.start_time <= $2
			AND a.`+cols.sent+` IS NULL
			AND (a.`+cols.claimed+` IS NULL OR a.`+cols.claimed+` < $3)
		ORDER BY a.start_time ASC, a.id ASC
		LIMIT $4
	`, from.UTC(), to.UTC(), claimExpiry.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (reminders.Candidate, error) {
		return scanCandidate(row)
	})
}

// Claim succeeds only while the marker is unset and no live claim exists.
func (s *ReminderStore) Claim(ctx context.Context, kind reminders.Kind, appointmentID string, now, claimExpiry time.Time) (bool, error) {
	cols, err := columnsFor(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, claimSQL(cols), appointmentID, now.UTC(), claimExpiry.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *ReminderStore) MarkSent(ctx context.Context, kind reminders.Kind, appointmentID string, at time.Time) error {
	cols, err := columnsFor(kind)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, markSentSQL(cols), appointmentID, at.UTC())
	return err
}

func (s *ReminderStore) Release(ctx context.Context, kind reminders.Kind, appointmentID string) error {
	cols, err := columnsFor(kind)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, releaseSQL(cols), appointmentID)
	return err
}

// claimSQL is the conditional update that makes a reminder send exclusive.
// $1 appointment id, $2 claim time, $3 claims older than this are stale.
func claimSQL(cols reminderColumns) string {
	return `
		UPDATE appointments
		SET ` + cols.claimed + ` = $2
		WHERE id = $1::uuid
			AND status = 'scheduled'
			AND deleted_at IS NULL
			AND ` + cols.sent + ` IS NULL
			AND (` + cols.claimed + ` IS NULL OR ` + cols.claimed + ` < $3)`
}

func markSentSQL(cols reminderColumns) string {
	return `
		UPDATE appointments
		SET ` + cols.sent + ` = $2, ` + cols.claimed + ` = NULL, updated_at = now()
		WHERE id = $1::uuid`
}

func releaseSQL(cols reminderColumns) string {
	return `
		UPDATE appointments SET ` + cols.claimed + ` = NULL
		WHERE id = $1::uuid AND ` + cols.sent + ` IS NULL`
}

func scanCandidate(row pgx.CollectableRow) (reminders.Candidate, error) {
	var (
		c      reminders.Candidate
		sc     appointmentScan
		client model.Contact
	)
	dest := append(sc.dest(&c.Appointment), &client.Name, &client.Email, &client.Phone, &c.ServiceName, &c.Timezone)
	if err := row.Scan(dest...); err != nil {
		return reminders.Candidate{}, err
	}
	if err := sc.finish(&c.Appointment); err != nil {
		return reminders.Candidate{}, err
	}
	if c.Appointment.IsGuest() {
		c.Contact = model.GuestContact(c.Appointment)
	} else {
		c.Contact = client
	}
	return c, nil
}
