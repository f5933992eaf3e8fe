package slots

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"appointdesk/internal/model"
)

func window(day model.Weekday, start, end string, dur int) model.AvailabilityWindow {
	return model.AvailabilityWindow{
		DayOfWeek:    day,
		Start:        model.MustTimeOfDay(start),
		End:          model.MustTimeOfDay(end),
		SlotDuration: dur,
		IsActive:     true,
	}
}

func times(ss ...string) []model.TimeOfDay {
	out := make([]model.TimeOfDay, len(ss))
	for i, s := range ss {
		out[i] = model.MustTimeOfDay(s)
	}
	return out
}

// mockBookings implements BookingSource for testing
type mockBookings struct {
	taken map[string][]model.TimeOfDay // key: YYYY-MM-DD
	err   error
}

func (m *mockBookings) TakenTimes(_ context.Context, date time.Time) ([]model.TimeOfDay, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.taken[date.Format(model.DateLayout)], nil
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name      string
		window    model.AvailabilityWindow
		wantCount int
		wantFirst string
		wantLast  string
	}{
		{"full working day", window(model.Monday, "09:00", "17:00", 30), 16, "09:00", "16:30"},
		{"partial trailing slot dropped", window(model.Monday, "09:00", "09:50", 30), 1, "09:00", "09:00"},
		{"exact fit", window(model.Monday, "09:00", "09:30", 30), 1, "09:00", "09:00"},
		{"hour slots", window(model.Tuesday, "09:00", "12:00", 60), 3, "09:00", "11:00"},
		{"odd duration", window(model.Tuesday, "10:00", "11:00", 25), 2, "10:00", "10:25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.window)
			if len(got) != tt.wantCount {
				t.Fatalf("expected %d slots, got %d (%v)", tt.wantCount, len(got), got)
			}
			if got[0].String() != tt.wantFirst {
				t.Errorf("first slot: expected %s, got %s", tt.wantFirst, got[0])
			}
			if got[len(got)-1].String() != tt.wantLast {
				t.Errorf("last slot: expected %s, got %s", tt.wantLast, got[len(got)-1])
			}
			for _, s := range got {
				if s.Add(tt.window.SlotDuration) > tt.window.End {
					t.Errorf("slot %s ends after window end %s", s, tt.window.End)
				}
			}
			if len(got) != tt.window.SlotCount() {
				t.Errorf("SlotCount %d disagrees with expansion %d", tt.window.SlotCount(), len(got))
			}
		})
	}
}

func TestExpandIsDeterministic(t *testing.T) {
	w := window(model.Friday, "08:15", "12:40", 20)
	if !reflect.DeepEqual(Expand(w), Expand(w)) {
		t.Error("expanding the same window twice should yield identical sequences")
	}
}

func TestExpandInvalidWindow(t *testing.T) {
	if got := Expand(window(model.Monday, "10:00", "09:00", 30)); len(got) != 0 {
		t.Errorf("expected no slots for inverted window, got %v", got)
	}
	w := window(model.Monday, "09:00", "10:00", 0)
	if got := Expand(w); len(got) != 0 {
		t.Errorf("expected no slots for zero duration, got %v", got)
	}
}

func TestMergeSplitShift(t *testing.T) {
	got := Merge([]model.AvailabilityWindow{
		window(model.Monday, "13:00", "14:00", 30),
		window(model.Monday, "09:00", "10:00", 30),
		window(model.Monday, "09:30", "10:30", 30), // overlaps 09:30
	})
	want := times("09:00", "09:30", "10:00", "13:00", "13:30")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSubtract(t *testing.T) {
	got := Subtract(times("09:00", "09:30", "10:00"), times("09:30", "11:00"))
	want := times("09:00", "10:00")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOpenSlots(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	idx := NewIndex([]model.AvailabilityWindow{
		window(model.Monday, "09:00", "10:00", 30),
		window(model.Tuesday, "10:00", "10:30", 30),
		{DayOfWeek: model.Wednesday, Start: model.MustTimeOfDay("09:00"), End: model.MustTimeOfDay("12:00"), SlotDuration: 30},
	})
	bookings := &mockBookings{taken: map[string][]model.TimeOfDay{
		"2026-03-02": times("09:30"),
		"2026-03-03": times("10:00"),
	}}
	gen := NewGenerator(idx, bookings)

	tests := []struct {
		name       string
		date       time.Time
		wantValues []string
		wantReason string
	}{
		{"partially booked", monday, []string{"09:00"}, ""},
		{"fully booked", tuesday, nil, ReasonFullyBooked},
		{"inactive window only", monday.AddDate(0, 0, 2), nil, ReasonNoAvailability},
		{"no window", monday.AddDate(0, 0, 5), nil, ReasonNoAvailability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gen.OpenSlots(context.Background(), tt.date)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var values []string
			for _, s := range res.Slots {
				values = append(values, s.Value)
			}
			if !reflect.DeepEqual(values, tt.wantValues) {
				t.Errorf("expected %v, got %v", tt.wantValues, values)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, res.Reason)
			}
		})
	}
}

func TestOpenSlotsSubsetOfCandidates(t *testing.T) {
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	idx := NewIndex([]model.AvailabilityWindow{window(model.Monday, "09:00", "17:00", 30)})
	taken := times("09:00", "12:30", "16:30")
	gen := NewGenerator(idx, &mockBookings{taken: map[string][]model.TimeOfDay{"2026-03-09": taken}})

	candidates, covered, err := gen.Candidates(context.Background(), monday)
	if err != nil || !covered {
		t.Fatalf("expected coverage, got covered=%v err=%v", covered, err)
	}
	res, err := gen.OpenSlots(context.Background(), monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Slots) != len(candidates)-len(taken) {
		t.Errorf("expected %d open slots, got %d", len(candidates)-len(taken), len(res.Slots))
	}
	for _, s := range res.Slots {
		if !Contains(candidates, s.Time) {
			t.Errorf("open slot %s is not a candidate", s.Value)
		}
		if Contains(taken, s.Time) {
			t.Errorf("taken slot %s offered", s.Value)
		}
	}
}

func TestOpenSlotsBookingError(t *testing.T) {
	idx := NewIndex([]model.AvailabilityWindow{window(model.Monday, "09:00", "10:00", 30)})
	gen := NewGenerator(idx, &mockBookings{err: errors.New("db down")})

	_, err := gen.OpenSlots(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected error from booking source")
	}
}

func TestToSlots(t *testing.T) {
	got := ToSlots(times("09:30", "14:00"))
	if got[0].Formatted != "09:30 AM" || got[0].Value != "09:30" {
		t.Errorf("unexpected slot %+v", got[0])
	}
	if got[1].Formatted != "02:00 PM" || got[1].Value != "14:00" {
		t.Errorf("unexpected slot %+v", got[1])
	}
}

func TestIndexDays(t *testing.T) {
	idx := NewIndex([]model.AvailabilityWindow{
		window(model.Friday, "09:00", "10:00", 30),
		window(model.Monday, "13:00", "14:00", 30),
		window(model.Monday, "09:00", "10:00", 30),
	})
	if got := idx.Days(); !reflect.DeepEqual(got, []model.Weekday{model.Monday, model.Friday}) {
		t.Errorf("unexpected days %v", got)
	}
	if mon := idx.For(model.Monday); mon[0].Start.String() != "09:00" {
		t.Errorf("windows should be sorted by start, got %v", mon)
	}
	if idx.Covers(model.Sunday) {
		t.Error("sunday should not be covered")
	}
}
