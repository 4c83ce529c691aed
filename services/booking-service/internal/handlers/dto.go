package handlers

import (
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/availability"
	"github.com/shopcal/shopcal/services/booking-service/internal/lifecycle"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type appointmentResponse struct {
	ID                string          `json:"id"`
	ShopID            string          `json:"shop_id"`
	StaffID           string          `json:"staff_id,omitempty"`
	ClientID          string          `json:"client_id,omitempty"`
	GuestName         string          `json:"guest_name,omitempty"`
	GuestEmail        string          `json:"guest_email,omitempty"`
	GuestPhone        string          `json:"guest_phone,omitempty"`
	ServiceID         string          `json:"service_id"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	DurationMinutes   int             `json:"duration_minutes"`
	Price             decimal.Decimal `json:"price"`
	Status            string          `json:"status"`
	PaymentStatus     string          `json:"payment_status"`
	Notes             string          `json:"notes,omitempty"`
	Reminder24hSentAt *time.Time      `json:"reminder_24h_sent_at,omitempty"`
	Reminder2hSentAt  *time.Time      `json:"reminder_2h_sent_at,omitempty"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                a.ID,
		ShopID:            a.ShopID,
		StaffID:           a.StaffID,
		ClientID:          a.ClientID,
		GuestName:         a.GuestName,
		GuestEmail:        a.GuestEmail,
		GuestPhone:        a.GuestPhone,
		ServiceID:         a.ServiceID,
		StartTime:         a.StartTime.UTC(),
		EndTime:           a.EndTime.UTC(),
		DurationMinutes:   a.DurationMinutes,
		Price:             a.Price,
		Status:            string(a.Status),
		PaymentStatus:     string(a.PaymentStatus),
		Notes:             a.Notes,
		Reminder24hSentAt: a.Reminder24hSentAt,
		Reminder2hSentAt:  a.Reminder2hSentAt,
		DeletedAt:         a.DeletedAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

type conflictItem struct {
	AppointmentID string    `json:"appointment_id"`
	StaffID       string    `json:"staff_id,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

func toConflicts(appts []model.Appointment) []conflictItem {
	out := make([]conflictItem, 0, len(appts))
	for _, a := range appts {
		out = append(out, conflictItem{
			AppointmentID: a.ID,
			StaffID:       a.StaffID,
			StartTime:     a.StartTime.UTC(),
			EndTime:       a.EndTime.UTC(),
		})
	}
	return out
}

type slotItem struct {
	StartTime                 time.Time `json:"start_time"`
	EndTime                   time.Time `json:"end_time"`
	IsAvailable               bool      `json:"is_available"`
	ConflictCount             int       `json:"conflict_count"`
	ConflictingAppointmentIDs []string  `json:"conflicting_appointment_ids"`
	Capacity                  int       `json:"capacity"`
}

type summaryItem struct {
	TotalSlots      int `json:"total_slots"`
	AvailableSlots  int `json:"available_slots"`
	BookedSlots     int `json:"booked_slots"`
	UtilizationRate int `json:"utilization_rate"`
}

type gridResponse struct {
	Date    string      `json:"date"`
	Slots   []slotItem  `json:"slots"`
	Summary summaryItem `json:"summary"`
}

func toGridResponse(g availability.Grid) gridResponse {
	slots := make([]slotItem, 0, len(g.Slots))
	for _, s := range g.Slots {
		ids := s.ConflictingAppointmentIDs
		if ids == nil {
			ids = []string{}
		}
		slots = append(slots, slotItem{
			StartTime:                 s.Start.UTC(),
			EndTime:                   s.End.UTC(),
			IsAvailable:               s.IsAvailable,
			ConflictCount:             s.ConflictCount,
			ConflictingAppointmentIDs: ids,
			Capacity:                  s.Capacity,
		})
	}
	return gridResponse{
		Date:  g.Date,
		Slots: slots,
		Summary: summaryItem{
			TotalSlots:      g.Summary.TotalSlots,
			AvailableSlots:  g.Summary.AvailableSlots,
			BookedSlots:     g.Summary.BookedSlots,
			UtilizationRate: g.Summary.UtilizationRate,
		},
	}
}

type slotCheckResponse struct {
	IsAvailable   bool           `json:"is_available"`
	ConflictCount int            `json:"conflict_count"`
	Conflicts     []conflictItem `json:"conflicts"`
}

type bookRequest struct {
	ShopID          string `json:"shop_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StaffID         string `json:"staff_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	GuestName       string `json:"guest_name"`
	GuestEmail      string `json:"guest_email"`
	GuestPhone      string `json:"guest_phone"`
}

type bookResponse struct {
	Appointment  appointmentResponse `json:"appointment"`
	HasConflicts bool                `json:"has_conflicts"`
	Conflicts    []conflictItem      `json:"conflicts"`
}

type statusRequest struct {
	AppointmentID string  `json:"appointment_id"`
	Status        string  `json:"status"`
	Notes         *string `json:"notes"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type cancelResponse struct {
	AppointmentID string    `json:"appointment_id"`
	Status        string    `json:"status"`
	DeletedAt     time.Time `json:"deleted_at"`
}

func toCancelResponse(c lifecycle.Cancellation) cancelResponse {
	return cancelResponse{AppointmentID: c.AppointmentID, Status: string(c.Status), DeletedAt: c.DeletedAt.UTC()}
}

type listResponse struct {
	Appointments []appointmentResponse `json:"appointments"`
}
