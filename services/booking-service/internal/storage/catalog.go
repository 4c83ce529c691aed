package storage

import (
	"context"

	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/availability"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// CatalogRepository reads the shop data the booking core consumes but does
// not own: services, staff, clients and opening hours.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) Service(ctx context.Context, shopID, serviceID string) (model.Service, error) {
	var (
		svc   model.Service
		price string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop_id, name, duration_minutes, price::text
		FROM services
		WHERE shop_id = $1 AND id = $2
	`, shopID, serviceID).Scan(&svc.ID, &svc.ShopID, &svc.Name, &svc.DurationMinutes, &price)
	if db.IsNotFound(err) {
		return model.Service{}, &model.NotFoundError{Entity: "service", ID: serviceID}
	}
	if err != nil {
		return model.Service{}, err
	}
	svc.Price, err = parsePrice(price)
	return svc, err
}

func (r *CatalogRepository) Staff(ctx context.Context, shopID, staffID string) (model.Staff, error) {
	var s model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop_id, name, is_active
		FROM staff
		WHERE shop_id = $1 AND id = $2
	`, shopID, staffID).Scan(&s.ID, &s.ShopID, &s.Name, &s.IsActive)
	if db.IsNotFound(err) {
		return model.Staff{}, &model.NotFoundError{Entity: "staff", ID: staffID}
	}
	return s, err
}

func (r *CatalogRepository) Client(ctx context.Context, shopID, clientID string) (model.Client, error) {
	var (
		c     model.Client
		spend string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop_id, name, email, phone, total_visits, lifetime_spend::text
		FROM clients
		WHERE shop_id = $1 AND id = $2
	`, shopID, clientID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Email, &c.Phone, &c.TotalVisits, &spend)
	if db.IsNotFound(err) {
		return model.Client{}, &model.NotFoundError{Entity: "client", ID: clientID}
	}
	if err != nil {
		return model.Client{}, err
	}
	c.LifetimeSpend, err = parsePrice(spend)
	return c, err
}

// BusinessHours falls back to UTC with 30 minute slots when the shop has no
// settings row. Weekdays without a business_hours row are closed.
func (r *CatalogRepository) BusinessHours(ctx context.Context, shopID string) (availability.BusinessHours, error) {
	hours := availability.BusinessHours{Timezone: "UTC", SlotMinutes: int(availability.DefaultGranularity.Minutes())}
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, slot_minutes FROM shop_settings WHERE shop_id = $1
	`, shopID).Scan(&hours.Timezone, &hours.SlotMinutes)
	if err != nil && !db.IsNotFound(err) {
		return availability.BusinessHours{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_open, open_minute, close_minute
		FROM business_hours
		WHERE shop_id = $1
	`, shopID)
	if err != nil {
		return availability.BusinessHours{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			weekday int
			day     availability.DayHours
		)
		if err := rows.Scan(&weekday, &day.IsOpen, &day.OpenMinute, &day.CloseMinute); err != nil {
			return availability.BusinessHours{}, err
		}
		if weekday >= 0 && weekday < len(hours.Week) {
			hours.Week[weekday] = day
		}
	}
	return hours, rows.Err()
}

// Contact resolves who hears about an appointment: the client record when
// there is one, the guest fields otherwise.
func (r *CatalogRepository) Contact(ctx context.Context, a model.Appointment) (model.Contact, error) {
	if a.IsGuest() {
		return model.GuestContact(a), nil
	}
	c, err := r.Client(ctx, a.ShopID, a.ClientID)
	if err != nil {
		return model.Contact{}, err
	}
	return model.Contact{Name: c.Name, Email: c.Email, Phone: c.Phone}, nil
}
