package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// rank orders the forward path. Statuses missing from the map are terminal
// side exits.
var rank = map[model.Status]int{
	model.StatusScheduled:  0,
	model.StatusConfirmed:  1,
	model.StatusInProgress: 2,
	model.StatusCompleted:  3,
}

// Allowed reports whether from may move to to. Forward moves may skip steps,
// cancelled and no_show are reachable from any non-terminal status, and
// nothing leaves a terminal status.
func Allowed(from, to model.Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to == model.StatusCancelled || to == model.StatusNoShow {
		return true
	}
	fr, ok1 := rank[from]
	tr, ok2 := rank[to]
	return ok1 && ok2 && tr > fr
}

type Tx interface {
	// AppointmentForUpdate locks the row. Missing rows are *model.NotFoundError.
	AppointmentForUpdate(ctx context.Context, shopID, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	// RecordCompletion reports false when the appointment was already counted.
	RecordCompletion(ctx context.Context, a model.Appointment, at time.Time) (bool, error)
	AddClientVisit(ctx context.Context, a model.Appointment) error
	AddDailyRevenue(ctx context.Context, a model.Appointment) error
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Notifier interface {
	StatusChanged(ctx context.Context, a model.Appointment, from model.Status) error
}

type Machine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewMachine(store Store, notifier Notifier, logger *slog.Logger) *Machine {
	return &Machine{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Transition moves an appointment to status. Asking for the current status is
// a no-op apart from an optional notes update. notes nil leaves notes alone.
func (m *Machine) Transition(ctx context.Context, shopID, appointmentID, status string, notes *string) (model.Appointment, error) {
	to, err := model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireIDs(shopID, appointmentID); err != nil {
		return model.Appointment{}, err
	}

	var (
		updated model.Appointment
		from    model.Status
	)
	err = m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AppointmentForUpdate(ctx, shopID, appointmentID)
		if err != nil {
			return err
		}
		from = a.Status
		now := m.now().UTC()

		if from == to {
			if notes != nil && strings.TrimSpace(*notes) != a.Notes {
				a.Notes = strings.TrimSpace(*notes)
				a.UpdatedAt = now
				if err := tx.UpdateAppointment(ctx, a); err != nil {
					return err
				}
			}
			updated = a
			return nil
		}
		if !Allowed(from, to) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
		}

		a.Status = to
		a.UpdatedAt = now
		if notes != nil {
			a.Notes = strings.TrimSpace(*notes)
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if to == model.StatusCompleted {
			if err := recordCompletion(ctx, tx, a, now); err != nil {
				return err
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return model.Appointment{}, model.Persistence("transition appointment", err)
	}

	if from != to {
		m.logger.Info("appointment status changed",
			"appointment_id", updated.ID,
			"shop_id", updated.ShopID,
			"from", string(from),
			"to", string(to),
		)
		m.notify(ctx, updated, from)
	}
	return updated, nil
}

type Cancellation struct {
	AppointmentID string
	Status        model.Status
	DeletedAt     time.Time
}

// SoftCancel is the user-facing delete: the appointment becomes cancelled and
// carries a deletion marker. Repeating it returns the original marker.
func (m *Machine) SoftCancel(ctx context.Context, shopID, appointmentID string) (Cancellation, error) {
	if err := requireIDs(shopID, appointmentID); err != nil {
		return Cancellation{}, err
	}

	var (
		updated model.Appointment
		from    model.Status
	)
	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AppointmentForUpdate(ctx, shopID, appointmentID)
		if err != nil {
			return err
		}
		from = a.Status
		if a.DeletedAt != nil {
			updated = a
			return nil
		}
		if from != model.StatusCancelled && !Allowed(from, model.StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, model.StatusCancelled)
		}

		now := m.now().UTC()
		a.Status = model.StatusCancelled
		a.DeletedAt = &now
		a.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Cancellation{}, model.Persistence("cancel appointment", err)
	}

	if from != model.StatusCancelled {
		m.logger.Info("appointment cancelled", "appointment_id", updated.ID, "shop_id", updated.ShopID, "from", string(from))
		m.notify(ctx, updated, from)
	}
	return Cancellation{
		AppointmentID: updated.ID,
		Status:        updated.Status,
		DeletedAt:     *updated.DeletedAt,
	}, nil
}

// recordCompletion counts a completed appointment exactly once. The
// completion row is the idempotency key for the client and revenue updates.
func recordCompletion(ctx context.Context, tx Tx, a model.Appointment, at time.Time) error {
	fresh, err := tx.RecordCompletion(ctx, a, at)
	if err != nil || !fresh {
		return err
	}
	if a.ClientID != "" {
		if err := tx.AddClientVisit(ctx, a); err != nil {
			return err
		}
	}
	return tx.AddDailyRevenue(ctx, a)
}

func (m *Machine) notify(ctx context.Context, a model.Appointment, from model.Status) {
	if a.Status != model.StatusConfirmed && a.Status != model.StatusCancelled {
		return
	}
	if err := m.notifier.StatusChanged(ctx, a, from); err != nil {
		m.logger.Warn("status notification failed", "appointment_id", a.ID, "status", string(a.Status), "err", err)
	}
}

func requireIDs(shopID, appointmentID string) error {
	if strings.TrimSpace(shopID) == "" {
		return model.Invalid("shop_id", "is required")
	}
	if strings.TrimSpace(appointmentID) == "" {
		return model.Invalid("appointment_id", "is required")
	}
	return nil
}
