// Package sheets mirrors appointments into a Google Sheets spreadsheet so
// staff can follow bookings without access to the admin API.
package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"appointdesk/internal/events"
	"appointdesk/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Header is the first row of the appointments sheet.
var Header = []interface{}{"ID", "Date", "Time", "Name", "Email", "Phone", "Purpose", "Status", "Created", "Updated"}

const lastColumn = "J"

// SheetsService appends and updates appointment rows.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        zerolog.Logger

	rowCache map[string]int
	cacheMu  sync.RWMutex
}

// NewSheetsService authenticates with a service account key file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger zerolog.Logger) (*SheetsService, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return NewWithOptions(ctx, spreadsheetID, sheetName, logger, option.WithHTTPClient(conf.Client(ctx)))
}

// NewWithOptions creates the service with explicit client options.
func NewWithOptions(ctx context.Context, spreadsheetID, sheetName string, logger zerolog.Logger, opts ...option.ClientOption) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger.With().Str("component", "sheets").Logger(),
		rowCache:      make(map[string]int),
	}, nil
}

// Register subscribes the service to appointment events.
func (s *SheetsService) Register(bus *events.EventBus) {
	bus.SubscribeAll(s.Handle)
}

// Handle appends new appointments and rewrites the row of changed ones.
func (s *SheetsService) Handle(ctx context.Context, event events.Event) error {
	a := event.Appointment
	var err error
	if event.Type == events.AppointmentCreated {
		err = s.AppendAppointment(ctx, &a)
	} else {
		err = s.UpdateAppointment(ctx, &a)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID).Str("event", event.Type).Msg("sync appointment to sheet")
	}
	return err
}

// EnsureHeader writes the header row.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{Header}}
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1:"+lastColumn+"1", vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// AppendAppointment adds a row for a.
func (s *SheetsService) AppendAppointment(ctx context.Context, a *model.Appointment) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{appointmentRowValues(a)}}
	resp, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:"+lastColumn, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(a.ID, row)
		}
	}
	return nil
}

// UpdateAppointment rewrites the row of a, appending one if it is missing.
func (s *SheetsService) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	row, ok := s.getCachedRow(a.ID)
	if !ok {
		var err error
		row, err = s.findRow(ctx, a.ID)
		if err != nil {
			return err
		}
		if row == 0 {
			return s.AppendAppointment(ctx, a)
		}
		s.setCachedRow(a.ID, row)
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, row, lastColumn, row)
	vr := &sheets.ValueRange{Values: [][]interface{}{appointmentRowValues(a)}}
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		s.deleteCacheRow(a.ID)
		return fmt.Errorf("update row %d: %w", row, err)
	}
	return nil
}

// findRow scans the ID column. It returns 0 when id is absent.
func (s *SheetsService) findRow(ctx context.Context, id string) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read id column: %w", err)
	}
	for i, row := range resp.Values {
		if len(row) > 0 && fmt.Sprint(row[0]) == id {
			return i + 1, nil
		}
	}
	return 0, nil
}

func appointmentRowValues(a *model.Appointment) []interface{} {
	updated := ""
	if !a.UpdatedAt.IsZero() {
		updated = a.UpdatedAt.Format("2006-01-02 15:04:05")
	}
	return []interface{}{
		a.ID,
		a.DateString(),
		a.Time.String(),
		a.Name,
		a.Email,
		a.Phone,
		a.Purpose,
		string(a.Status),
		a.CreatedAt.Format("2006-01-02 15:04:05"),
		updated,
	}
}

var rangeRow = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number of an A1 range such as "Sheet!A5:J5".
func rowFromRange(rng string) (int, bool) {
	m := rangeRow.FindStringSubmatch(rng)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *SheetsService) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCacheRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

// ClearCache forgets every known row position.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}
