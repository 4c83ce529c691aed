package storage

import (
	"context"
	"time"

	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) BlockingAppointments(ctx context.Context, shopID string, from, to time.Time) ([]model.Appointment, error) {
	return blockingAppointments(ctx, r.pool, shopID, from, to)
}

type ListFilter struct {
	ShopID         string
	From           time.Time
	To             time.Time
	StaffID        string
	IncludeDeleted bool
	Limit          int
}

// List returns the shop calendar for [From, To), cancelled appointments
// included.
func (r *AppointmentRepository) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR staff_id = $4)
			AND ($5 OR deleted_at IS NULL)
		ORDER BY start_time ASC, id ASC
		LIMIT $6
	`, f.ShopID, f.From.UTC(), f.To.UTC(), f.StaffID, f.IncludeDeleted, f.Limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
