package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/services/booking-service/internal/availability"
)

type AvailabilityService interface {
	GetAvailability(ctx context.Context, q availability.GridQuery) (availability.Grid, error)
	CheckSlot(ctx context.Context, q availability.CheckQuery) (availability.SlotCheck, error)
}

type AvailabilityHandler struct {
	svc    AvailabilityService
	logger *slog.Logger
}

func NewAvailabilityHandler(svc AvailabilityService, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

func (h *AvailabilityHandler) Grid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capacity, ok := parseCapacity(w, q.Get("capacity"))
	if !ok {
		return
	}
	grid, err := h.svc.GetAvailability(r.Context(), availability.GridQuery{
		ShopID:               q.Get("shop_id"),
		Date:                 q.Get("date"),
		ServiceID:            strings.TrimSpace(q.Get("service_id")),
		StaffID:              strings.TrimSpace(q.Get("staff_id")),
		ExcludeAppointmentID: strings.TrimSpace(q.Get("exclude_appointment_id")),
		Capacity:             capacity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toGridResponse(grid))
}

func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capacity, ok := parseCapacity(w, q.Get("capacity"))
	if !ok {
		return
	}
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		badRequest(w, "start", "must be an RFC 3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		badRequest(w, "end", "must be an RFC 3339 timestamp")
		return
	}
	check, err := h.svc.CheckSlot(r.Context(), availability.CheckQuery{
		ShopID:               strings.TrimSpace(q.Get("shop_id")),
		StaffID:              strings.TrimSpace(q.Get("staff_id")),
		Start:                start.UTC(),
		End:                  end.UTC(),
		ExcludeAppointmentID: strings.TrimSpace(q.Get("exclude_appointment_id")),
		Capacity:             capacity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotCheckResponse{
		IsAvailable:   check.IsAvailable,
		ConflictCount: check.ConflictCount,
		Conflicts:     toConflicts(check.Conflicts),
	})
}

func parseCapacity(w http.ResponseWriter, raw string) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		badRequest(w, "capacity", "must be a positive integer")
		return 0, false
	}
	return n, true
}
