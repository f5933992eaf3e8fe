package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"appointdesk/internal/database"
	"appointdesk/internal/model"
)

// Source provides the records exported to spreadsheets.
type Source interface {
	ListAppointments(ctx context.Context, filter database.AppointmentFilter) ([]model.Appointment, error)
	ListWindows(ctx context.Context) ([]model.AvailabilityWindow, error)
}

// ExcelWriter writes data to Excel format.
type ExcelWriter interface {
	// AddSheet adds a new sheet with the given name.
	AddSheet(name string) error

	// WriteHeader writes column headers to current sheet.
	WriteHeader(columns []string) error

	// WriteRow writes a data row to current sheet.
	WriteRow(row []interface{}) error

	// Save writes the Excel file to the writer.
	Save(w io.Writer) error

	Close() error
}

// Notifier sends audit reports to managers.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// GenerateFilename creates a filename like "appointments_2026-03.xlsx".
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("appointments_%04d-%02d.xlsx", t.Year(), int(t.Month()))
}

// MonthRange returns the first and last day of the month containing t.
func MonthRange(t time.Time) (time.Time, time.Time) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first, first.AddDate(0, 1, -1)
}
