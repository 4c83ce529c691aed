package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/services/booking-service/internal/availability"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// Policy decides what a detected conflict does to a booking.
type Policy string

const (
	// PolicyWarn books anyway and reports the conflicts.
	PolicyWarn Policy = "WARN"
	// PolicyReject refuses the booking with a *model.ConflictError.
	PolicyReject Policy = "REJECT"
)

type Guest struct {
	Name  string `validate:"required,max=200"`
	Email string `validate:"omitempty,email,max=254"`
	Phone string `validate:"omitempty,max=32"`
}

type Request struct {
	ShopID          string    `validate:"required,max=64"`
	ClientID        string    `validate:"omitempty,max=64"`
	Guest           *Guest    `validate:"omitempty"`
	ServiceID       string    `validate:"required,max=64"`
	StaffID         string    `validate:"omitempty,max=64"`
	Start           time.Time `validate:"required"`
	DurationMinutes int       `validate:"omitempty,min=1,max=1440"`
	Notes           string    `validate:"max=2000"`
}

type Result struct {
	Appointment  model.Appointment
	HasConflicts bool
	Conflicts    []model.Appointment
}

// Tx is the transactional view the guard needs. LockShop serializes bookings
// of one shop for the rest of the transaction, and reads after it must see
// every booking committed before the lock was granted.
type Tx interface {
	LockShop(ctx context.Context, shopID string) error
	BlockingAppointments(ctx context.Context, shopID string, from, to time.Time) ([]model.Appointment, error)
	InsertAppointment(ctx context.Context, a *model.Appointment) error
}

type Store interface {
	Service(ctx context.Context, shopID, serviceID string) (model.Service, error)
	Staff(ctx context.Context, shopID, staffID string) (model.Staff, error)
	Client(ctx context.Context, shopID, clientID string) (model.Client, error)
	// InTx runs fn in one transaction. Lost races surface as errors for which
	// db.IsSerializationFailure is true.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SlotChecker re-reads availability outside the booking transaction once the
// retries for a lost race are spent.
type SlotChecker interface {
	CheckSlot(ctx context.Context, q availability.CheckQuery) (availability.SlotCheck, error)
}

type Notifier interface {
	AppointmentBooked(ctx context.Context, a model.Appointment) error
}

type Guard struct {
	store       Store
	checker     SlotChecker
	notifier    Notifier
	logger      *slog.Logger
	validate    *validator.Validate
	staffPolicy availability.StaffPolicy
	fallback    time.Duration
	maxTries    uint

	now     func() time.Time
	newID   func() string
	backoff func() backoff.BackOff
}

type Config struct {
	StaffPolicy     availability.StaffPolicy
	DefaultDuration time.Duration
	// MaxTxAttempts bounds transaction attempts when concurrent bookings
	// collide at the database.
	MaxTxAttempts uint
}

func NewGuard(store Store, checker SlotChecker, notifier Notifier, logger *slog.Logger, cfg Config) *Guard {
	if cfg.StaffPolicy == "" {
		cfg.StaffPolicy = availability.StaffPolicyShared
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = availability.DefaultServiceDuration
	}
	if cfg.MaxTxAttempts == 0 {
		cfg.MaxTxAttempts = 5
	}
	return &Guard{
		store:       store,
		checker:     checker,
		notifier:    notifier,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		staffPolicy: cfg.StaffPolicy,
		fallback:    cfg.DefaultDuration,
		maxTries:    cfg.MaxTxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			return b
		},
	}
}

// CreateAppointment is the only path that creates appointments. The conflict
// check and the insert share one transaction holding the shop's booking
// lock, so two REJECT bookings cannot both land on the same slot. A
// transaction that still loses a race at the database is retried with
// backoff, which re-runs the check against the winner's row.
func (g *Guard) CreateAppointment(ctx context.Context, req Request, policy Policy) (Result, error) {
	if policy != PolicyWarn && policy != PolicyReject {
		return Result{}, fmt.Errorf("unknown conflict policy %q", policy)
	}
	req = normalize(req)
	if err := g.validateRequest(req); err != nil {
		return Result{}, err
	}

	appt, err := g.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}

	res, err := backoff.Retry(ctx, func() (Result, error) {
		res, err := g.insert(ctx, appt, policy)
		if err != nil && !db.IsSerializationFailure(err) {
			return Result{}, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(g.backoff()),
		backoff.WithMaxTries(g.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("booking transaction lost a race, retrying", "shop_id", appt.ShopID, "retry_in", next, "err", err)
		}),
	)
	if err != nil {
		if policy == PolicyReject && db.IsSerializationFailure(err) {
			return Result{}, g.conflictAfterRace(ctx, appt, err)
		}
		return Result{}, model.Persistence("create appointment", err)
	}

	g.logger.Info("appointment booked",
		"appointment_id", res.Appointment.ID,
		"shop_id", res.Appointment.ShopID,
		"policy", string(policy),
		"has_conflicts", res.HasConflicts,
	)
	if err := g.notifier.AppointmentBooked(ctx, res.Appointment); err != nil {
		g.logger.Warn("booking notification failed", "appointment_id", res.Appointment.ID, "err", err)
	}
	return res, nil
}

func (g *Guard) insert(ctx context.Context, appt model.Appointment, policy Policy) (Result, error) {
	var res Result
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockShop(ctx, appt.ShopID); err != nil {
			return err
		}
		existing, err := tx.BlockingAppointments(ctx, appt.ShopID, appt.StartTime, appt.EndTime)
		if err != nil {
			return err
		}
		check := availability.Evaluate(existing, availability.CheckQuery{
			ShopID:  appt.ShopID,
			StaffID: appt.StaffID,
			Start:   appt.StartTime,
			End:     appt.EndTime,
		}, g.staffPolicy)

		if !check.IsAvailable && policy == PolicyReject {
			return conflictError(check.Conflicts[0])
		}

		row := appt
		if err := tx.InsertAppointment(ctx, &row); err != nil {
			return err
		}
		res = Result{Appointment: row, HasConflicts: check.ConflictCount > 0, Conflicts: check.Conflicts}
		return nil
	})
	return res, err
}

// conflictAfterRace runs when every attempt lost to concurrent transactions.
// If a winner now occupies the slot the caller gets the conflict, otherwise
// the original failure.
func (g *Guard) conflictAfterRace(ctx context.Context, appt model.Appointment, cause error) error {
	check, err := g.checker.CheckSlot(ctx, availability.CheckQuery{
		ShopID:  appt.ShopID,
		StaffID: appt.StaffID,
		Start:   appt.StartTime,
		End:     appt.EndTime,
	})
	if err != nil {
		return model.Persistence("recheck slot", errors.Join(cause, err))
	}
	if !check.IsAvailable && len(check.Conflicts) > 0 {
		return conflictError(check.Conflicts[0])
	}
	return model.Persistence("create appointment", cause)
}

func (g *Guard) prepare(ctx context.Context, req Request) (model.Appointment, error) {
	svc, err := g.store.Service(ctx, req.ShopID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, model.Persistence("load service", err)
	}
	if req.StaffID != "" {
		staff, err := g.store.Staff(ctx, req.ShopID, req.StaffID)
		if err != nil {
			return model.Appointment{}, model.Persistence("load staff", err)
		}
		if !staff.IsActive {
			return model.Appointment{}, model.Invalid("staff_id", "staff member is not active")
		}
	}
	if req.ClientID != "" {
		if _, err := g.store.Client(ctx, req.ShopID, req.ClientID); err != nil {
			return model.Appointment{}, model.Persistence("load client", err)
		}
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration <= 0 && svc.DurationMinutes > 0 {
		duration = time.Duration(svc.DurationMinutes) * time.Minute
	}
	if duration <= 0 {
		duration = g.fallback
	}

	start := req.Start.UTC()
	now := g.now().UTC()
	appt := model.Appointment{
		ID:              g.newID(),
		ShopID:          req.ShopID,
		StaffID:         req.StaffID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		StartTime:       start,
		EndTime:         start.Add(duration),
		DurationMinutes: int(duration / time.Minute),
		Price:           svc.Price,
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentUnpaid,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Guest != nil {
		appt.GuestName = req.Guest.Name
		appt.GuestEmail = req.Guest.Email
		appt.GuestPhone = req.Guest.Phone
	}
	return appt, nil
}

func (g *Guard) validateRequest(req Request) error {
	if err := g.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.Invalid(fieldName(verrs[0]), describe(verrs[0]))
		}
		return model.Invalid("", err.Error())
	}
	switch {
	case req.ClientID == "" && req.Guest == nil:
		return model.Invalid("client_id", "either a client or guest details are required")
	case req.ClientID != "" && req.Guest != nil:
		return model.Invalid("client_id", "client and guest details are mutually exclusive")
	case req.Guest != nil && req.Guest.Email == "" && req.Guest.Phone == "":
		return model.Invalid("guest_email", "guest email or phone is required")
	}
	return nil
}

func normalize(req Request) Request {
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.Guest != nil {
		g := Guest{
			Name:  strings.TrimSpace(req.Guest.Name),
			Email: strings.ToLower(strings.TrimSpace(req.Guest.Email)),
			Phone: strings.TrimSpace(req.Guest.Phone),
		}
		req.Guest = &g
	}
	return req
}

func conflictError(a model.Appointment) error {
	return &model.ConflictError{AppointmentID: a.ID, Start: a.StartTime, End: a.EndTime}
}

// fieldName maps a validator namespace such as "Request.Guest.Email" to the
// JSON field the client sent.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return wireNames[ns]
}

var wireNames = map[string]string{
	"ShopID":          "shop_id",
	"ClientID":        "client_id",
	"ServiceID":       "service_id",
	"StaffID":         "staff_id",
	"Start":           "start_time",
	"DurationMinutes": "duration_minutes",
	"Notes":           "notes",
	"Guest.Name":      "guest_name",
	"Guest.Email":     "guest_email",
	"Guest.Phone":     "guest_phone",
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
