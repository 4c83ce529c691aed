package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ParseStatus accepts the wire form of a status, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return s, nil
	}
	return "", &ValidationError{Field: "status", Message: "unrecognized status " + `"` + raw + `"`}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Appointment times are UTC instants. An empty StaffID means the booking is
// for any available staff member. Exactly one of ClientID or the guest
// fields identifies who the appointment is for.
type Appointment struct {
	ID              string
	ShopID          string
	StaffID         string
	ClientID        string
	GuestName       string
	GuestEmail      string
	GuestPhone      string
	ServiceID       string
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Price           decimal.Decimal
	Status          Status
	PaymentStatus   PaymentStatus
	Notes           string

	Reminder24hSentAt *time.Time
	Reminder2hSentAt  *time.Time
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Blocking reports whether the appointment takes part in conflict checks.
func (a Appointment) Blocking() bool {
	return a.Status != StatusCancelled && a.DeletedAt == nil
}

func (a Appointment) IsGuest() bool {
	return a.ClientID == ""
}

type Service struct {
	ID              string
	ShopID          string
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
}

type Staff struct {
	ID       string
	ShopID   string
	Name     string
	IsActive bool
}

type Client struct {
	ID            string
	ShopID        string
	Name          string
	Email         string
	Phone         string
	TotalVisits   int
	LifetimeSpend decimal.Decimal
}

// Contact is whoever should hear about an appointment, resolved from either
// the client record or the guest fields.
type Contact struct {
	Name  string
	Email string
	Phone string
}

func (c Contact) Reachable() bool {
	return c.Email != "" || c.Phone != ""
}

func GuestContact(a Appointment) Contact {
	return Contact{Name: a.GuestName, Email: a.GuestEmail, Phone: a.GuestPhone}
}
