package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopcal/shopcal/libs/auth"
	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/services/booking-service/internal/booking"
	"github.com/shopcal/shopcal/services/booking-service/internal/lifecycle"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopcal/shopcal/services/booking-service/internal/storage"
)

type Booker interface {
	CreateAppointment(ctx context.Context, req booking.Request, policy booking.Policy) (booking.Result, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, shopID, appointmentID, status string, notes *string) (model.Appointment, error)
	SoftCancel(ctx context.Context, shopID, appointmentID string) (lifecycle.Cancellation, error)
}

type AppointmentLister interface {
	List(ctx context.Context, f storage.ListFilter) ([]model.Appointment, error)
}

// AppointmentHandler serves guest bookings on the public surface and the
// staff calendar behind auth. Both booking routes go through the same guard
// and differ only in conflict policy.
type AppointmentHandler struct {
	guard     Booker
	lifecycle Lifecycle
	lister    AppointmentLister
	logger    *slog.Logger
	now       func() time.Time
}

func NewAppointmentHandler(guard Booker, lc Lifecycle, lister AppointmentLister, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{guard: guard, lifecycle: lc, lister: lister, logger: logger, now: time.Now}
}

// PublicBook creates a guest booking and refuses conflicting slots.
func (h *AppointmentHandler) PublicBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ClientID) != "" {
		badRequest(w, "client_id", "public bookings are guest bookings")
		return
	}
	h.book(w, r, req, booking.PolicyReject)
}

// Create books on behalf of the shop. Staff may knowingly double book, so
// conflicts are reported instead of refused.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopScope(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ShopID != "" && req.ShopID != shopID {
		httpx.WriteError(w, http.StatusForbidden, "shop_id does not match token")
		return
	}
	req.ShopID = shopID
	h.book(w, r, req, booking.PolicyWarn)
}

func (h *AppointmentHandler) book(w http.ResponseWriter, r *http.Request, req bookRequest, policy booking.Policy) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		badRequest(w, "start_time", "must be an RFC 3339 timestamp")
		return
	}
	in := booking.Request{
		ShopID:          req.ShopID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		StaffID:         req.StaffID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}
	if req.GuestName != "" || req.GuestEmail != "" || req.GuestPhone != "" {
		in.Guest = &booking.Guest{Name: req.GuestName, Email: req.GuestEmail, Phone: req.GuestPhone}
	}

	res, err := h.guard.CreateAppointment(r.Context(), in, policy)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bookResponse{
		Appointment:  toAppointmentResponse(res.Appointment),
		HasConflicts: res.HasConflicts,
		Conflicts:    toConflicts(res.Conflicts),
	})
}

// List returns the shop calendar. from and to default to the seven days
// starting today (UTC).
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	from := h.now().UTC().Truncate(24 * time.Hour)
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "from", "must be an RFC 3339 timestamp")
			return
		}
		from = t.UTC()
	}
	to := from.Add(7 * 24 * time.Hour)
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "to", "must be an RFC 3339 timestamp")
			return
		}
		to = t.UTC()
	}
	if !to.After(from) {
		badRequest(w, "to", "must be after from")
		return
	}

	appts, err := h.lister.List(r.Context(), storage.ListFilter{
		ShopID:         shopID,
		From:           from,
		To:             to,
		StaffID:        strings.TrimSpace(q.Get("staff_id")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	})
	if err != nil {
		writeServiceError(w, r, h.logger, model.Persistence("list appointments", err))
		return
	}
	out := listResponse{Appointments: make([]appointmentResponse, 0, len(appts))}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopScope(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.lifecycle.Transition(r.Context(), shopID, strings.TrimSpace(req.AppointmentID), req.Status, req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopScope(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.lifecycle.SoftCancel(r.Context(), shopID, strings.TrimSpace(req.AppointmentID))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCancelResponse(c))
}

func shopScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.ShopID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "missing shop scope")
		return "", false
	}
	return claims.ShopID, true
}
