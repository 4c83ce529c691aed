package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var appointmentColumns = appointmentCols("")

// appointmentCols lists the columns scanAppointment reads, optionally
// qualified by a table alias.
func appointmentCols(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	return fmt.Sprintf(`
	%[1]sid::text, %[1]sshop_id, coalesce(%[1]sstaff_id, ''), coalesce(%[1]sclient_id, ''),
	%[1]sguest_name, %[1]sguest_email, %[1]sguest_phone, %[1]sservice_id,
	%[1]sstart_time, %[1]send_time, %[1]sduration_minutes, %[1]sprice::text, %[1]sstatus, %[1]spayment_status, %[1]snotes,
	%[1]sreminder_24h_sent_at, %[1]sreminder_2h_sent_at, %[1]sdeleted_at, %[1]screated_at, %[1]supdated_at`, p)
}

// appointmentScan holds the text columns that need converting after Scan.
type appointmentScan struct {
	price  string
	status string
	paid   string
}

func (s *appointmentScan) dest(a *model.Appointment) []any {
	return []any{
		&a.ID, &a.ShopID, &a.StaffID, &a.ClientID,
		&a.GuestName, &a.GuestEmail, &a.GuestPhone, &a.ServiceID,
		&a.StartTime, &a.EndTime, &a.DurationMinutes, &s.price, &s.status, &s.paid, &a.Notes,
		&a.Reminder24hSentAt, &a.Reminder2hSentAt, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt,
	}
}

func (s *appointmentScan) finish(a *model.Appointment) error {
	price, err := parsePrice(s.price)
	if err != nil {
		return err
	}
	a.Price = price
	a.Status = model.Status(s.status)
	a.PaymentStatus = model.PaymentStatus(s.paid)
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a  model.Appointment
		sc appointmentScan
	)
	if err := row.Scan(sc.dest(&a)...); err != nil {
		return model.Appointment{}, err
	}
	if err := sc.finish(&a); err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

// blockingAppointments is the coarse SQL pre-filter for conflict checks. The
// caller decides overlap with availability.Overlaps.
func blockingAppointments(ctx context.Context, q querier, shopID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1
			AND status <> 'cancelled'
			AND deleted_at IS NULL
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC, id ASC
	`, shopID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func parsePrice(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return d, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
