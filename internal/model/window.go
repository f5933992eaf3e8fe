package model

import (
	"fmt"
	"time"
)

// DefaultSlotDuration is used when a window is created without an explicit duration.
const DefaultSlotDuration = 30

// AvailabilityWindow is a weekly recurring interval on one weekday that yields bookable slots.
type AvailabilityWindow struct {
	ID           int64     `json:"id"`
	DayOfWeek    Weekday   `json:"day_of_week"`
	Start        TimeOfDay `json:"start_time"`
	End          TimeOfDay `json:"end_time"`
	SlotDuration int       `json:"slot_duration"` // minutes
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WindowKey identifies a window for uniqueness purposes.
type WindowKey struct {
	Day   Weekday
	Start TimeOfDay
	End   TimeOfDay
}

func (w *AvailabilityWindow) Key() WindowKey {
	return WindowKey{Day: w.DayOfWeek, Start: w.Start, End: w.End}
}

// Validate checks the window invariants. Errors wrap ErrInvalidWindow.
func (w *AvailabilityWindow) Validate() error {
	if !w.DayOfWeek.Valid() {
		return fmt.Errorf("%w: day_of_week must be 1..7, got %d", ErrInvalidWindow, int(w.DayOfWeek))
	}
	if !w.Start.Valid() || !w.End.Valid() {
		return fmt.Errorf("%w: time out of range", ErrInvalidWindow)
	}
	if w.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot_duration must be positive", ErrInvalidWindow)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: start time %s must be before end time %s", ErrInvalidWindow, w.Start, w.End)
	}
	if int(w.End-w.Start) < w.SlotDuration {
		return fmt.Errorf("%w: range %s-%s is shorter than slot duration of %d minutes",
			ErrInvalidWindow, w.Start, w.End, w.SlotDuration)
	}
	return nil
}

// SlotCount is the number of whole slots the window yields.
func (w *AvailabilityWindow) SlotCount() int {
	if w.SlotDuration <= 0 || w.End <= w.Start {
		return 0
	}
	return int(w.End-w.Start) / w.SlotDuration
}

func (w *AvailabilityWindow) String() string {
	return fmt.Sprintf("%s: %s - %s", w.DayOfWeek, w.Start, w.End)
}
