package storage

import (
	"context"

	"github.com/shopcal/shopcal/services/notification-service/internal/inbox"
)

type Notification struct {
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

type NotificationsRepository struct{}

func NewNotificationsRepository() *NotificationsRepository {
	return &NotificationsRepository{}
}

func (r *NotificationsRepository) Insert(ctx context.Context, q inbox.Execer, n Notification) error {
	_, err := q.Exec(ctx, `
		INSERT INTO notifications (event_id, appointment_id, shop_id, kind, channel, recipient, status, provider_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.EventID, n.AppointmentID, n.ShopID, n.Kind, n.Channel, n.Recipient, n.Status, n.ProviderID, n.Error)
	return err
}
