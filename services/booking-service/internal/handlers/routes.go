package handlers

import (
	"net/http"

	"github.com/shopcal/shopcal/libs/httpx"
)

type Routes struct {
	Availability *AvailabilityHandler
	Appointments *AppointmentHandler
	Reminders    *ReminderHandler

	// RequireAuth guards the staff routes. PublicLimit throttles the public
	// booking surface. Either may be nil.
	RequireAuth httpx.Middleware
	PublicLimit httpx.Middleware
}

func (rt Routes) Register(mux *http.ServeMux) {
	public := func(h http.HandlerFunc) http.Handler { return httpx.Chain(h, rt.PublicLimit) }
	staff := func(h http.HandlerFunc) http.Handler { return httpx.Chain(h, rt.RequireAuth) }

	mux.Handle("GET /api/v1/public/availability", public(rt.Availability.Grid))
	mux.Handle("GET /api/v1/public/availability/check", public(rt.Availability.Check))
	mux.Handle("POST /api/v1/public/book", public(rt.Appointments.PublicBook))

	mux.Handle("GET /api/v1/appointments", staff(rt.Appointments.List))
	mux.Handle("POST /api/v1/appointments", staff(rt.Appointments.Create))
	mux.Handle("POST /api/v1/appointments/status", staff(rt.Appointments.UpdateStatus))
	mux.Handle("POST /api/v1/appointments/cancel", staff(rt.Appointments.Cancel))

	mux.HandleFunc("POST /internal/reminders/run", rt.Reminders.Run)
}
