package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointdesk/internal/model"
	"appointdesk/internal/slots"
)

// Violation is one reason a booking request was refused.
type Violation struct {
	Err     error
	Message string
}

func (v Violation) Error() string {
	if v.Message != "" {
		return v.Message
	}
	return v.Err.Error()
}

func (v Violation) Unwrap() error { return v.Err }

// Code returns the machine code of the violation.
func (v Violation) Code() string { return model.Code(v.Err) }

// ValidationError aggregates every violation found for a booking request.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return "booking rejected: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the violations to errors.Is.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// Codes lists the violation codes in evaluation order.
func (e *ValidationError) Codes() []string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = v.Code()
	}
	return codes
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// SettingsReader reads the booking settings singleton.
type SettingsReader interface {
	GetOrCreateSettings(ctx context.Context) (model.BookingSettings, error)
}

// SlotChecker reports whether an active appointment holds a slot.
type SlotChecker interface {
	HasActiveAppointment(ctx context.Context, date time.Time, at model.TimeOfDay, excludingID string) (bool, error)
}

// Validator runs every booking check and reports all failures together.
type Validator struct {
	settings  SettingsReader
	generator *slots.Generator
	slots     SlotChecker
	now       func() time.Time
	loc       *time.Location
}

// NewValidator creates a Validator. now and loc define "today".
func NewValidator(settings SettingsReader, generator *slots.Generator, checker SlotChecker, now func() time.Time, loc *time.Location) *Validator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Validator{settings: settings, generator: generator, slots: checker, now: now, loc: loc}
}

// Validate checks a proposed date and time. It returns the violations found
// (nil when the booking is acceptable) and a non-nil error only when a check
// could not be carried out.
func (v *Validator) Validate(ctx context.Context, date time.Time, at model.TimeOfDay, excludingID string) ([]Violation, error) {
	var out []Violation
	date = dateIn(date, v.loc)

	settings, err := v.settings.GetOrCreateSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.IsEnabled {
		out = append(out, Violation{Err: model.ErrBookingDisabled, Message: "The booking system is currently disabled."})
	}

	if date.Before(today(v.now, v.loc)) {
		out = append(out, Violation{Err: model.ErrPastDate, Message: "Appointment date cannot be in the past."})
	}

	candidates, covered, err := v.generator.Candidates(ctx, date)
	if err != nil {
		return nil, err
	}
	if !covered {
		out = append(out, Violation{
			Err:     model.ErrDayUnavailable,
			Message: fmt.Sprintf("Appointments are not available on %ss.", model.WeekdayOf(date)),
		})
	}
	if !slots.Contains(candidates, at) {
		out = append(out, Violation{Err: model.ErrSlotNotOffered, Message: "The selected time slot is not available."})
	}

	taken, err := v.slots.HasActiveAppointment(ctx, date, at, excludingID)
	if err != nil {
		return nil, err
	}
	if taken {
		out = append(out, SlotTakenViolation())
	}

	return out, nil
}

// SlotTakenViolation is reported when the slot is held by another appointment.
func SlotTakenViolation() Violation {
	return Violation{Err: model.ErrSlotTaken, Message: "This time slot is already booked. Please select another time."}
}

func today(now func() time.Time, loc *time.Location) time.Time {
	return model.DateOf(now().In(loc))
}

// dateIn reinterprets the calendar day of t in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
