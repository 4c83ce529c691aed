package availability

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

const (
	DefaultServiceDuration = 30 * time.Minute
	DefaultGranularity     = 30 * time.Minute
)

type Catalog interface {
	Service(ctx context.Context, shopID, serviceID string) (model.Service, error)
}

type HoursProvider interface {
	BusinessHours(ctx context.Context, shopID string) (BusinessHours, error)
}

// AppointmentReader loads the shop's appointments that may overlap
// [from, to). Implementations can over-fetch; the caller filters with
// FindConflicts.
type AppointmentReader interface {
	BlockingAppointments(ctx context.Context, shopID string, from, to time.Time) ([]model.Appointment, error)
}

type Options struct {
	StaffPolicy     StaffPolicy
	DefaultDuration time.Duration
}

type Service struct {
	catalog  Catalog
	hours    HoursProvider
	appts    AppointmentReader
	policy   StaffPolicy
	fallback time.Duration
}

func NewService(catalog Catalog, hours HoursProvider, appts AppointmentReader, opts Options) *Service {
	if opts.StaffPolicy == "" {
		opts.StaffPolicy = StaffPolicyShared
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultServiceDuration
	}
	return &Service{
		catalog:  catalog,
		hours:    hours,
		appts:    appts,
		policy:   opts.StaffPolicy,
		fallback: opts.DefaultDuration,
	}
}

func (s *Service) StaffPolicy() StaffPolicy { return s.policy }

type GridQuery struct {
	ShopID               string
	Date                 string
	ServiceID            string
	StaffID              string
	ExcludeAppointmentID string
	Capacity             int
}

type Slot struct {
	Start                     time.Time
	End                       time.Time
	IsAvailable               bool
	ConflictCount             int
	ConflictingAppointmentIDs []string
	Capacity                  int
}

type Summary struct {
	TotalSlots      int
	AvailableSlots  int
	BookedSlots     int
	UtilizationRate int
}

type Grid struct {
	Date    string
	Slots   []Slot
	Summary Summary
}

// GetAvailability annotates every slot of the shop's business day with the
// appointments it collides with. The result depends only on stored data, so
// repeated calls without writes in between are identical.
func (s *Service) GetAvailability(ctx context.Context, q GridQuery) (Grid, error) {
	q.ShopID = strings.TrimSpace(q.ShopID)
	q.Date = strings.TrimSpace(q.Date)
	if q.ShopID == "" {
		return Grid{}, model.Invalid("shop_id", "is required")
	}
	if q.Date == "" {
		return Grid{}, model.Invalid("date", "is required")
	}
	if _, err := ParseDate(q.Date); err != nil {
		return Grid{}, err
	}
	capacity := normalizeCapacity(q.Capacity)

	duration, err := s.serviceDuration(ctx, q.ShopID, q.ServiceID)
	if err != nil {
		return Grid{}, err
	}

	hours, err := s.hours.BusinessHours(ctx, q.ShopID)
	if err != nil {
		return Grid{}, model.Persistence("load business hours", err)
	}
	loc, err := hours.Location()
	if err != nil {
		return Grid{}, model.Persistence("load business hours", err)
	}
	window, open, err := hours.Week.Window(q.Date, loc)
	if err != nil {
		return Grid{}, err
	}
	grid := Grid{Date: q.Date, Slots: []Slot{}}
	if !open {
		return grid, nil
	}

	appts, err := s.appts.BlockingAppointments(ctx, q.ShopID, window.Start, window.End)
	if err != nil {
		return Grid{}, model.Persistence("load appointments", err)
	}

	granularity := DefaultGranularity
	if hours.SlotMinutes > 0 {
		granularity = time.Duration(hours.SlotMinutes) * time.Minute
	}
	for iv := range GenerateSlots(window.Start, window.End, duration, granularity) {
		hits := FindConflicts(appts, iv, q.StaffID, q.ExcludeAppointmentID, s.policy)
		slot := Slot{
			Start:                     iv.Start,
			End:                       iv.End,
			ConflictCount:             len(hits),
			IsAvailable:               len(hits) < capacity,
			ConflictingAppointmentIDs: appointmentIDs(hits),
			Capacity:                  capacity,
		}
		grid.Slots = append(grid.Slots, slot)
	}
	grid.Summary = summarize(grid.Slots)
	return grid, nil
}

type CheckQuery struct {
	ShopID               string
	StaffID              string
	Start                time.Time
	End                  time.Time
	ExcludeAppointmentID string
	Capacity             int
}

type SlotCheck struct {
	IsAvailable   bool
	ConflictCount int
	Conflicts     []model.Appointment
}

// CheckSlot applies the grid predicate to a single proposed interval.
func (s *Service) CheckSlot(ctx context.Context, q CheckQuery) (SlotCheck, error) {
	if err := q.validate(); err != nil {
		return SlotCheck{}, err
	}
	appts, err := s.appts.BlockingAppointments(ctx, q.ShopID, q.Start, q.End)
	if err != nil {
		return SlotCheck{}, model.Persistence("load appointments", err)
	}
	return Evaluate(appts, q, s.policy), nil
}

// Evaluate is CheckSlot over an already loaded appointment set. The booking
// guard uses it inside its transaction.
func Evaluate(appts []model.Appointment, q CheckQuery, policy StaffPolicy) SlotCheck {
	hits := FindConflicts(appts, Interval{Start: q.Start, End: q.End}, q.StaffID, q.ExcludeAppointmentID, policy)
	return SlotCheck{
		IsAvailable:   len(hits) < normalizeCapacity(q.Capacity),
		ConflictCount: len(hits),
		Conflicts:     hits,
	}
}

func (q CheckQuery) validate() error {
	if strings.TrimSpace(q.ShopID) == "" {
		return model.Invalid("shop_id", "is required")
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return model.Invalid("start", "start and end are required")
	}
	if !q.End.After(q.Start) {
		return model.Invalid("end", "must be after start")
	}
	return nil
}

// serviceDuration falls back to the default when no service is named or the
// service has no duration configured.
func (s *Service) serviceDuration(ctx context.Context, shopID, serviceID string) (time.Duration, error) {
	if strings.TrimSpace(serviceID) == "" {
		return s.fallback, nil
	}
	svc, err := s.catalog.Service(ctx, shopID, serviceID)
	if err != nil {
		return 0, model.Persistence("load service", err)
	}
	if svc.DurationMinutes <= 0 {
		return s.fallback, nil
	}
	return time.Duration(svc.DurationMinutes) * time.Minute, nil
}

func summarize(slots []Slot) Summary {
	sum := Summary{TotalSlots: len(slots)}
	for _, sl := range slots {
		if sl.IsAvailable {
			sum.AvailableSlots++
		}
	}
	sum.BookedSlots = sum.TotalSlots - sum.AvailableSlots
	if sum.TotalSlots > 0 {
		sum.UtilizationRate = int(math.Round(float64(sum.BookedSlots) / float64(sum.TotalSlots) * 100))
	}
	return sum
}

func normalizeCapacity(c int) int {
	if c <= 0 {
		return 1
	}
	return c
}

func appointmentIDs(appts []model.Appointment) []string {
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	return ids
}
