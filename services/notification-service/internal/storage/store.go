package storage

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/notification-service/internal/dispatch"
	"github.com/shopcal/shopcal/services/notification-service/internal/inbox"
)

//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

// Store backs dispatch.Handler with the inbox and notifications tables.
type Store struct {
	pool          *db.Pool
	inbox         *inbox.Repository
	notifications *NotificationsRepository
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool, inbox: inbox.NewRepository(), notifications: NewNotificationsRepository()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx dispatch.Tx) error) error {
	return s.pool.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, storeTx{tx: tx, store: s})
	})
}

type storeTx struct {
	tx    pgx.Tx
	store *Store
}

func (t storeTx) RecordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	return t.store.inbox.Record(ctx, t.tx, eventID, eventType)
}

func (t storeTx) RecordNotification(ctx context.Context, n dispatch.Record) error {
	return t.store.notifications.Insert(ctx, t.tx, Notification{
		EventID:       n.EventID,
		AppointmentID: n.AppointmentID,
		ShopID:        n.ShopID,
		Kind:          n.Kind,
		Channel:       n.Channel,
		Recipient:     n.Recipient,
		Status:        n.Status,
		ProviderID:    n.ProviderID,
		Error:         n.Error,
	})
}
