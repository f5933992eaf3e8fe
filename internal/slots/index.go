package slots

import (
	"context"
	"sort"

	"appointdesk/internal/model"
)

// Index groups active windows by weekday.
type Index struct {
	byDay map[model.Weekday][]model.AvailabilityWindow
}

// NewIndex builds an index from windows, skipping inactive ones.
func NewIndex(windows []model.AvailabilityWindow) *Index {
	idx := &Index{byDay: make(map[model.Weekday][]model.AvailabilityWindow)}
	for _, w := range windows {
		if !w.IsActive {
			continue
		}
		idx.byDay[w.DayOfWeek] = append(idx.byDay[w.DayOfWeek], w)
	}
	for day := range idx.byDay {
		ws := idx.byDay[day]
		sort.Slice(ws, func(i, j int) bool {
			if ws[i].Start != ws[j].Start {
				return ws[i].Start < ws[j].Start
			}
			return ws[i].End < ws[j].End
		})
	}
	return idx
}

// For returns the active windows on day.
func (idx *Index) For(day model.Weekday) []model.AvailabilityWindow {
	return idx.byDay[day]
}

// Covers reports whether day has at least one active window.
func (idx *Index) Covers(day model.Weekday) bool {
	return len(idx.byDay[day]) > 0
}

// Days returns the covered weekdays in ascending order.
func (idx *Index) Days() []model.Weekday {
	days := make([]model.Weekday, 0, len(idx.byDay))
	for d := range idx.byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// ActiveWindowsForDay lets an Index act as a WindowSource.
func (idx *Index) ActiveWindowsForDay(_ context.Context, day model.Weekday) ([]model.AvailabilityWindow, error) {
	return idx.For(day), nil
}
