package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/lifecycle"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// LifecycleStore backs lifecycle.Machine.
type LifecycleStore struct {
	pool *db.Pool
}

func NewLifecycleStore(pool *db.Pool) *LifecycleStore {
	return &LifecycleStore{pool: pool}
}

func (s *LifecycleStore) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	return s.pool.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, lifecycleTx{tx: tx})
	})
}

type lifecycleTx struct {
	tx pgx.Tx
}

// AppointmentForUpdate treats a malformed id like an unknown one.
func (t lifecycleTx) AppointmentForUpdate(ctx context.Context, shopID, id string) (model.Appointment, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return model.Appointment{}, &model.NotFoundError{Entity: "appointment", ID: id}
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1 AND id = $2::uuid
		FOR UPDATE
	`, shopID, key.String()))
	if db.IsNotFound(err) {
		return model.Appointment{}, &model.NotFoundError{Entity: "appointment", ID: id}
	}
	return a, err
}

func (t lifecycleTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			notes = $4,
			deleted_at = $5,
			updated_at = now()
		WHERE shop_id = $1 AND id = $2::uuid
	`, a.ShopID, a.ID, string(a.Status), a.Notes, a.DeletedAt)
	return err
}

func (t lifecycleTx) RecordCompletion(ctx context.Context, a model.Appointment, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_completions (appointment_id, shop_id, amount, completed_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (appointment_id) DO NOTHING
	`, a.ID, a.ShopID, a.Price.String(), at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t lifecycleTx) AddClientVisit(ctx context.Context, a model.Appointment) error {
	if a.ClientID == "" {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE clients
		SET total_visits = total_visits + 1,
			lifetime_spend = lifetime_spend + $3::numeric
		WHERE shop_id = $1 AND id = $2
	`, a.ShopID, a.ClientID, a.Price.String())
	return err
}

// AddDailyRevenue books the revenue on the UTC day the appointment started.
func (t lifecycleTx) AddDailyRevenue(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO daily_analytics (shop_id, day, completed_count, revenue)
		VALUES ($1, $2::date, 1, $3::numeric)
		ON CONFLICT (shop_id, day) DO UPDATE
		SET completed_count = daily_analytics.completed_count + 1,
			revenue = daily_analytics.revenue + EXCLUDED.revenue,
			updated_at = now()
	`, a.ShopID, a.StartTime.UTC().Format(time.DateOnly), a.Price.String())
	return err
}
