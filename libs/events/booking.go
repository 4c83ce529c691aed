package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topics double as event types: one topic per event.
const (
	TopicAppointmentBooked        = "booking.appointment.booked.v1"
	TopicAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Appointment is the payload of both booking topics. PreviousStatus is only
// set on status changes.
type Appointment struct {
	AppointmentID  string    `json:"appointment_id"`
	ShopID         string    `json:"shop_id"`
	StaffID        string    `json:"staff_id,omitempty"`
	ServiceID      string    `json:"service_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Contact        Contact   `json:"contact"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func DecodeAppointment(raw []byte) (Appointment, error) {
	var evt Appointment
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Appointment{}, fmt.Errorf("decode appointment event: %w", err)
	}
	if evt.AppointmentID == "" || evt.ShopID == "" {
		return Appointment{}, fmt.Errorf("decode appointment event: missing appointment or shop id")
	}
	return evt, nil
}
