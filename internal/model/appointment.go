package model

import (
	"strings"
	"time"
)

// MaxPurposeLength bounds Appointment.Purpose.
const MaxPurposeLength = 100

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses occupy a slot.
var ActiveStatuses = []Status{StatusPending, StatusApproved}

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusCancelled},
	StatusCancelled: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Occupies reports whether an appointment in status s holds its slot.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusApproved
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts lower or upper case status names.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Appointment is a booking of one slot.
type Appointment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Date      time.Time `json:"-"`
	Time      TimeOfDay `json:"time"`
	Purpose   string    `json:"purpose"`
	Notes     string    `json:"notes,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DateString returns the appointment date as YYYY-MM-DD.
func (a *Appointment) DateString() string {
	return a.Date.Format(DateLayout)
}

// StartsAt is the appointment start in the location of a.Date.
func (a *Appointment) StartsAt() time.Time {
	return a.Time.On(a.Date)
}

// IsActive reports whether the appointment is not cancelled and still in the future
// relative to now. A booking for today counts only while its time is strictly ahead.
func (a *Appointment) IsActive(now time.Time) bool {
	if a.Status == StatusCancelled {
		return false
	}
	now = now.In(a.Date.Location())
	today := DateOf(now)
	day := DateOf(a.Date)
	if day.After(today) {
		return true
	}
	if day.Equal(today) {
		return a.Time > TimeOfDayOf(now)
	}
	return false
}

// CanCancel reports whether the owner may still cancel.
func (a *Appointment) CanCancel(now time.Time) bool {
	return a.IsActive(now)
}
