// Package audit exports appointments and availability to Excel workbooks and
// delivers the monthly report to managers.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"appointdesk/internal/database"
	"appointdesk/internal/model"

	"github.com/rs/zerolog"
)

var (
	appointmentColumns = []string{"ID", "Date", "Time", "Name", "Email", "Phone", "Purpose", "Notes", "Status", "Created", "Updated"}
	windowColumns      = []string{"ID", "Day", "Start", "End", "Slot minutes", "Slots", "Active"}
)

// Service builds workbooks from the store.
type Service struct {
	source    Source
	newWriter func() ExcelWriter
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a new audit service. notifier may be nil when monthly
// reports are not delivered anywhere.
func NewService(source Source, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		source:    source,
		newWriter: NewExcelizeWriter,
		notifier:  notifier,
		logger:    logger.With().Str("component", "audit").Logger(),
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Export writes a workbook with an Appointments sheet filtered by filter and
// an Availability sheet listing every window.
func (s *Service) Export(ctx context.Context, w io.Writer, filter database.AppointmentFilter) error {
	appointments, err := s.source.ListAppointments(ctx, filter)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	windows, err := s.source.ListWindows(ctx)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}

	excel := s.newWriter()
	defer excel.Close()

	if err := excel.AddSheet("Appointments"); err != nil {
		return err
	}
	if err := excel.WriteHeader(appointmentColumns); err != nil {
		return err
	}
	for i := range appointments {
		if err := excel.WriteRow(appointmentRow(&appointments[i])); err != nil {
			return err
		}
	}

	if err := excel.AddSheet("Availability"); err != nil {
		return err
	}
	if err := excel.WriteHeader(windowColumns); err != nil {
		return err
	}
	for _, win := range windows {
		if err := excel.WriteRow(windowRow(win)); err != nil {
			return err
		}
	}

	if err := excel.Save(w); err != nil {
		return fmt.Errorf("save excel: %w", err)
	}
	s.logger.Debug().Int("appointments", len(appointments)).Int("windows", len(windows)).Msg("workbook exported")
	return nil
}

// ExportToFile writes the workbook to path.
func (s *Service) ExportToFile(ctx context.Context, path string, filter database.AppointmentFilter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.Export(ctx, f, filter); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MonthlyReport exports the previous month and sends it to the notifier.
func (s *Service) MonthlyReport(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	first, last := MonthRange(s.now().AddDate(0, -1, 0))

	var buf bytes.Buffer
	filter := database.AppointmentFilter{DateFrom: first, DateTo: last}
	if err := s.Export(ctx, &buf, filter); err != nil {
		return err
	}

	filename := GenerateFilename(first)
	caption := fmt.Sprintf("Appointments report for %s", first.Format("January 2006"))
	if err := s.notifier.SendDocument(ctx, filename, &buf, caption); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	s.logger.Info().Str("filename", filename).Msg("monthly report sent")
	return nil
}

func appointmentRow(a *model.Appointment) []interface{} {
	updated := ""
	if !a.UpdatedAt.IsZero() {
		updated = a.UpdatedAt.Format("2006-01-02 15:04")
	}
	return []interface{}{
		a.ID,
		a.DateString(),
		a.Time.String(),
		a.Name,
		a.Email,
		a.Phone,
		a.Purpose,
		a.Notes,
		string(a.Status),
		a.CreatedAt.Format("2006-01-02 15:04"),
		updated,
	}
}

func windowRow(w model.AvailabilityWindow) []interface{} {
	return []interface{}{
		w.ID,
		w.DayOfWeek.String(),
		w.Start.String(),
		w.End.String(),
		w.SlotDuration,
		w.SlotCount(),
		w.IsActive,
	}
}
