package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/booking"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// BookingStore backs booking.Guard.
type BookingStore struct {
	*CatalogRepository
	pool *db.Pool
}

func NewBookingStore(pool *db.Pool, catalog *CatalogRepository) *BookingStore {
	return &BookingStore{CatalogRepository: catalog, pool: pool}
}

// bookingTxOptions is READ COMMITTED. Every statement after LockShop takes a
// fresh snapshot, so the check sees bookings committed while the lock was
// awaited.
var bookingTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func (s *BookingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.pool.InTx(ctx, bookingTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, bookingTx{tx: tx})
	})
}

type bookingTx struct {
	tx pgx.Tx
}

// LockShop takes a transaction scoped advisory lock so bookings for one shop
// are checked and inserted one at a time. It must be the first statement.
func (t bookingTx) LockShop(ctx context.Context, shopID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('booking:' || $1))`, shopID)
	return err
}

func (t bookingTx) BlockingAppointments(ctx context.Context, shopID string, from, to time.Time) ([]model.Appointment, error) {
	return blockingAppointments(ctx, t.tx, shopID, from, to)
}

func (t bookingTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, shop_id, staff_id, client_id, guest_name, guest_email, guest_phone, service_id,
			 start_time, end_time, duration_minutes, price, status, payment_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15)
		RETURNING created_at, updated_at
	`, a.ID, a.ShopID, nullable(a.StaffID), nullable(a.ClientID), a.GuestName, a.GuestEmail, a.GuestPhone, a.ServiceID,
		a.StartTime.UTC(), a.EndTime.UTC(), a.DurationMinutes, a.Price.String(), string(a.Status), string(a.PaymentStatus), a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}
