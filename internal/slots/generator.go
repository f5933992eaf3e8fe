package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"appointdesk/internal/model"
)

// Reasons returned alongside an empty slot list.
const (
	ReasonNoAvailability = "no_availability"
	ReasonFullyBooked    = "fully_booked"
	ReasonPastDate       = "past_date"
)

// Slot is a bookable start time as presented to visitors.
type Slot struct {
	Time      model.TimeOfDay `json:"-"`
	Formatted string          `json:"formatted"` // "09:30 AM"
	Value     string          `json:"value"`     // "09:30"
}

// Result is the outcome of an open slot query for one date.
type Result struct {
	Date   time.Time `json:"-"`
	Slots  []Slot    `json:"slots"`
	Reason string    `json:"reason,omitempty"`
}

// Empty reports whether no slot is open.
func (r Result) Empty() bool {
	return len(r.Slots) == 0
}

// Times returns the slot start times.
func (r Result) Times() []model.TimeOfDay {
	out := make([]model.TimeOfDay, len(r.Slots))
	for i, s := range r.Slots {
		out[i] = s.Time
	}
	return out
}

// WindowSource returns active windows for a weekday.
type WindowSource interface {
	ActiveWindowsForDay(ctx context.Context, day model.Weekday) ([]model.AvailabilityWindow, error)
}

// BookingSource returns the start times held by pending or approved appointments on date.
type BookingSource interface {
	TakenTimes(ctx context.Context, date time.Time) ([]model.TimeOfDay, error)
}

// Expand returns the start times of every whole slot in w. A slot is kept only
// when start+duration does not pass the window end.
func Expand(w model.AvailabilityWindow) []model.TimeOfDay {
	if w.SlotDuration <= 0 || w.End <= w.Start {
		return nil
	}
	out := make([]model.TimeOfDay, 0, w.SlotCount())
	for cursor := w.Start; cursor.Add(w.SlotDuration) <= w.End; cursor = cursor.Add(w.SlotDuration) {
		out = append(out, cursor)
	}
	return out
}

// Merge expands every window and returns the union in chronological order,
// without duplicate minutes.
func Merge(windows []model.AvailabilityWindow) []model.TimeOfDay {
	seen := make(map[model.TimeOfDay]struct{})
	var out []model.TimeOfDay
	for _, w := range windows {
		for _, t := range Expand(w) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subtract removes taken times from candidates, keeping candidate order.
func Subtract(candidates, taken []model.TimeOfDay) []model.TimeOfDay {
	if len(taken) == 0 {
		return candidates
	}
	busy := make(map[model.TimeOfDay]struct{}, len(taken))
	for _, t := range taken {
		busy[t] = struct{}{}
	}
	out := make([]model.TimeOfDay, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := busy[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Contains reports whether t is among times.
func Contains(times []model.TimeOfDay, t model.TimeOfDay) bool {
	for _, x := range times {
		if x == t {
			return true
		}
	}
	return false
}

// ToSlots converts start times to their presentation form.
func ToSlots(times []model.TimeOfDay) []Slot {
	out := make([]Slot, len(times))
	for i, t := range times {
		out[i] = Slot{Time: t, Formatted: t.Display(), Value: t.String()}
	}
	return out
}

// Generator computes candidate and open slots for a date.
type Generator struct {
	windows  WindowSource
	bookings BookingSource
}

// NewGenerator creates a new slot generator.
func NewGenerator(windows WindowSource, bookings BookingSource) *Generator {
	return &Generator{windows: windows, bookings: bookings}
}

// Candidates returns every configured slot for the date, ignoring bookings.
// The second result is false when no active window covers the weekday.
func (g *Generator) Candidates(ctx context.Context, date time.Time) ([]model.TimeOfDay, bool, error) {
	windows, err := g.windows.ActiveWindowsForDay(ctx, model.WeekdayOf(date))
	if err != nil {
		return nil, false, fmt.Errorf("load windows: %w", err)
	}
	active := windows[:0:0]
	for _, w := range windows {
		if w.IsActive {
			active = append(active, w)
		}
	}
	if len(active) == 0 {
		return nil, false, nil
	}
	return Merge(active), true, nil
}

// OpenSlots returns candidates minus the times already held on date.
func (g *Generator) OpenSlots(ctx context.Context, date time.Time) (Result, error) {
	date = model.DateOf(date)
	res := Result{Date: date, Slots: []Slot{}}

	candidates, covered, err := g.Candidates(ctx, date)
	if err != nil {
		return res, err
	}
	if !covered {
		res.Reason = ReasonNoAvailability
		return res, nil
	}

	var taken []model.TimeOfDay
	if g.bookings != nil {
		taken, err = g.bookings.TakenTimes(ctx, date)
		if err != nil {
			return res, fmt.Errorf("load taken slots: %w", err)
		}
	}

	res.Slots = ToSlots(Subtract(candidates, taken))
	if res.Empty() {
		res.Reason = ReasonFullyBooked
	}
	return res, nil
}
