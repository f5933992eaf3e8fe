package model

import "errors"

var (
	ErrBookingDisabled    = errors.New("booking is currently disabled")
	ErrPastDate           = errors.New("cannot book appointments in the past")
	ErrDayUnavailable     = errors.New("no availability on the selected day")
	ErrSlotNotOffered     = errors.New("selected time is not an available slot")
	ErrSlotTaken          = errors.New("time slot already booked")
	ErrSingletonViolation = errors.New("booking settings already exist")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotFound           = errors.New("not found")

	ErrFieldRequired = errors.New("field is required")
	ErrFieldTooLong  = errors.New("field is too long")
	ErrInvalidWindow = errors.New("invalid availability window")
	ErrWindowExists  = errors.New("availability window already exists")
	ErrForbidden     = errors.New("forbidden")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrBookingDisabled, "booking_disabled"},
	{ErrPastDate, "past_date"},
	{ErrDayUnavailable, "day_unavailable"},
	{ErrSlotNotOffered, "slot_not_offered"},
	{ErrSlotTaken, "slot_taken"},
	{ErrSingletonViolation, "singleton_violation"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrNotFound, "not_found"},
	{ErrFieldRequired, "field_required"},
	{ErrFieldTooLong, "field_too_long"},
	{ErrInvalidWindow, "invalid_window"},
	{ErrWindowExists, "window_exists"},
	{ErrForbidden, "forbidden"},
}

// Code returns the stable machine code for a domain error, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FieldError names the offending input field of ErrFieldRequired or ErrFieldTooLong.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
