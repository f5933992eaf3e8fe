// Package booking implements the public booking flow and the administrator operations on top of it.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointdesk/internal/database"
	"appointdesk/internal/events"
	"appointdesk/internal/metrics"
	"appointdesk/internal/model"
	"appointdesk/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWindowDays is how far ahead ListAvailableDates looks by default.
const DefaultWindowDays = 30

// SettingsRepository provides the settings singleton.
type SettingsRepository interface {
	SettingsReader
	UpdateSettings(ctx context.Context, s model.BookingSettings) (model.BookingSettings, error)
}

// WindowRepository provides availability windows.
type WindowRepository interface {
	slots.WindowSource
	ListWindows(ctx context.Context) ([]model.AvailabilityWindow, error)
	ListActiveWindows(ctx context.Context) ([]model.AvailabilityWindow, error)
	GetWindow(ctx context.Context, id int64) (*model.AvailabilityWindow, error)
	UpsertWindow(ctx context.Context, w *model.AvailabilityWindow) error
	SetWindowsActive(ctx context.Context, ids []int64, active bool) (int64, error)
}

// AppointmentRepository provides appointment storage.
type AppointmentRepository interface {
	slots.BookingSource
	SlotChecker
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, from, to model.Status) error
	ListAppointments(ctx context.Context, filter database.AppointmentFilter) ([]model.Appointment, error)
}

// SlotCache memoizes open slot lists. It is advisory only: submission never consults it.
// Get reports the generation it looked in; a miss is filled by passing that
// generation to Set, which discards results computed across an Invalidate.
type SlotCache interface {
	Get(ctx context.Context, date time.Time) (slots.Result, int64, bool)
	Set(ctx context.Context, gen int64, date time.Time, res slots.Result)
	Invalidate(ctx context.Context)
}

// EventPublisher receives appointment lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Service provides booking operations.
type Service struct {
	settings     SettingsRepository
	windows      WindowRepository
	appointments AppointmentRepository
	generator    *slots.Generator
	validator    *Validator
	cache        SlotCache
	events       EventPublisher
	logger       zerolog.Logger
	now          func() time.Time
	loc          *time.Location
	windowDays   int
}

// Option configures a Service.
type Option func(*Service)

func WithCache(c SlotCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithWindowDays sets the default look-ahead of ListAvailableDates.
func WithWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.windowDays = days
		}
	}
}

// NewService creates a booking service.
func NewService(
	settings SettingsRepository,
	windows WindowRepository,
	appointments AppointmentRepository,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		settings:     settings,
		windows:      windows,
		appointments: appointments,
		logger:       logger.With().Str("component", "booking").Logger(),
		now:          time.Now,
		loc:          time.Local,
		windowDays:   DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.generator = slots.NewGenerator(windows, appointments)
	s.validator = NewValidator(settings, s.generator, appointments, s.now, s.loc)
	return s
}

// Validator returns the validator shared by every entry point.
func (s *Service) Validator() *Validator {
	return s.validator
}

// Location is the timezone dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today returns the current calendar date.
func (s *Service) Today() time.Time {
	return today(s.now, s.loc)
}

// AvailableDate is a bookable calendar day.
type AvailableDate struct {
	Date      time.Time `json:"-"`
	Value     string    `json:"date"`
	DayName   string    `json:"day_name"`
	Formatted string    `json:"formatted"`
}

func (s *Service) requireEnabled(ctx context.Context) error {
	settings, err := s.settings.GetOrCreateSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.IsEnabled {
		return model.ErrBookingDisabled
	}
	return nil
}

// ListAvailableDates returns the dates from today through days-1 days ahead
// whose weekday has at least one active window.
func (s *Service) ListAvailableDates(ctx context.Context, days int) ([]AvailableDate, error) {
	if err := s.requireEnabled(ctx); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = s.windowDays
	}

	windows, err := s.windows.ListActiveWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	idx := slots.NewIndex(windows)

	start := s.Today()
	out := make([]AvailableDate, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		if !idx.Covers(model.WeekdayOf(d)) {
			continue
		}
		out = append(out, AvailableDate{
			Date:      d,
			Value:     d.Format(model.DateLayout),
			DayName:   d.Weekday().String(),
			Formatted: model.FormatLongDate(d),
		})
	}
	return out, nil
}

// ListOpenSlots returns the free slots on date. Past dates yield an empty
// result with ReasonPastDate.
func (s *Service) ListOpenSlots(ctx context.Context, date time.Time) (slots.Result, error) {
	date = dateIn(date, s.loc)
	if err := s.requireEnabled(ctx); err != nil {
		return slots.Result{Date: date}, err
	}
	if date.Before(s.Today()) {
		return slots.Result{Date: date, Slots: []slots.Slot{}, Reason: slots.ReasonPastDate}, nil
	}

	var gen int64
	if s.cache != nil {
		res, g, ok := s.cache.Get(ctx, date)
		if ok {
			metrics.IncSlotCache("hit")
			return res, nil
		}
		metrics.IncSlotCache("miss")
		gen = g
	}

	res, err := s.generator.OpenSlots(ctx, date)
	if err != nil {
		return res, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, gen, date, res)
	}
	return res, nil
}

// BookingRequest is a visitor's booking submission.
type BookingRequest struct {
	Name    string
	Email   string
	Phone   string
	Date    time.Time
	Time    model.TimeOfDay
	Purpose string
	Notes   string
}

func (r *BookingRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Purpose = strings.TrimSpace(r.Purpose)
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *BookingRequest) fieldViolations() []Violation {
	var out []Violation
	required := []struct{ name, value string }{
		{"name", r.Name},
		{"email", r.Email},
		{"phone", r.Phone},
	}
	for _, f := range required {
		if f.value == "" {
			err := &model.FieldError{Field: f.name, Err: model.ErrFieldRequired}
			out = append(out, Violation{Err: err, Message: fmt.Sprintf("%s is required.", f.name)})
		}
	}
	if len([]rune(r.Purpose)) > model.MaxPurposeLength {
		err := &model.FieldError{Field: "purpose", Err: model.ErrFieldTooLong}
		out = append(out, Violation{Err: err, Message: fmt.Sprintf("purpose must be at most %d characters.", model.MaxPurposeLength)})
	}
	return out
}

// SubmitBooking validates the request and stores a pending appointment.
// Refusals come back as *ValidationError listing every violation.
func (s *Service) SubmitBooking(ctx context.Context, req BookingRequest) (*model.Appointment, error) {
	req.normalize()
	date := dateIn(req.Date, s.loc)

	violations := req.fieldViolations()
	checks, err := s.validator.Validate(ctx, date, req.Time, "")
	if err != nil {
		metrics.IncBookingSubmitted("error")
		return nil, fmt.Errorf("validate booking: %w", err)
	}
	violations = append(violations, checks...)
	if len(violations) > 0 {
		return nil, s.reject(date, req.Time, violations)
	}

	a := &model.Appointment{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Date:      date,
		Time:      req.Time,
		Purpose:   req.Purpose,
		Notes:     req.Notes,
		Status:    model.StatusPending,
		CreatedAt: s.now(),
	}

	if err := s.appointments.InsertAppointment(ctx, a); err != nil {
		switch {
		case errors.Is(err, model.ErrSlotTaken):
			return nil, s.reject(date, req.Time, []Violation{SlotTakenViolation()})
		case errors.Is(err, model.ErrBookingDisabled):
			return nil, s.reject(date, req.Time, []Violation{{Err: model.ErrBookingDisabled, Message: "The booking system is currently disabled."}})
		}
		metrics.IncBookingSubmitted("error")
		return nil, fmt.Errorf("store appointment: %w", err)
	}

	metrics.IncBookingSubmitted("created")
	s.invalidate(ctx)
	s.publish(ctx, events.AppointmentCreated, a, "owner")

	s.logger.Info().
		Str("appointment_id", a.ID).
		Str("date", a.DateString()).
		Str("time", a.Time.String()).
		Msg("appointment created")
	return a, nil
}

func (s *Service) reject(date time.Time, at model.TimeOfDay, violations []Violation) error {
	ve := &ValidationError{Violations: violations}
	metrics.IncBookingSubmitted("rejected")
	for _, code := range ve.Codes() {
		metrics.IncViolation(code)
	}
	s.logger.Info().
		Str("date", date.Format(model.DateLayout)).
		Str("time", at.String()).
		Strs("violations", ve.Codes()).
		Msg("booking rejected")
	return ve
}

// GetAppointment returns an appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// GetOwnAppointment returns an appointment only when email matches its owner.
func (s *Service) GetOwnAppointment(ctx context.Context, id, email string) (*model.Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Owner(email).owns(a) {
		return nil, fmt.Errorf("get appointment: %w", model.ErrNotFound)
	}
	return a, nil
}

// ListAppointments returns appointments matching filter.
func (s *Service) ListAppointments(ctx context.Context, filter database.AppointmentFilter) ([]model.Appointment, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.appointments.ListAppointments(ctx, filter)
}

// ApproveBooking moves a pending appointment to approved.
func (s *Service) ApproveBooking(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !model.CanTransition(a.Status, model.StatusApproved) {
		return nil, fmt.Errorf("cannot approve appointment with status %s: %w", a.Status, model.ErrInvalidTransition)
	}
	if err := s.appointments.UpdateAppointmentStatus(ctx, id, a.Status, model.StatusApproved); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	a.Status = model.StatusApproved
	a.UpdatedAt = s.now()

	metrics.IncTransition(string(model.StatusApproved), string(RoleAdmin))
	s.publish(ctx, events.AppointmentApproved, a, string(RoleAdmin))
	s.logger.Info().Str("appointment_id", id).Msg("appointment approved")
	return a, nil
}

// CancelBooking cancels an appointment on behalf of actor. Cancelled
// appointments cannot be cancelled again by anyone, whatever email an owner
// presents. Otherwise owners must match the appointment email and may only
// cancel while it is still active; administrators cancel unconditionally.
func (s *Service) CancelBooking(ctx context.Context, id string, actor Actor) (*model.Appointment, error) {
	a, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !model.CanTransition(a.Status, model.StatusCancelled) {
		return nil, fmt.Errorf("cannot cancel appointment with status %s: %w", a.Status, model.ErrInvalidTransition)
	}
	if actor.Role == RoleOwner && !actor.owns(a) {
		return nil, fmt.Errorf("get appointment: %w", model.ErrNotFound)
	}
	if actor.Role != RoleAdmin && !a.CanCancel(s.now()) {
		return nil, fmt.Errorf("appointment %s has already started or passed: %w", id, model.ErrInvalidTransition)
	}

	if err := s.appointments.UpdateAppointmentStatus(ctx, id, a.Status, model.StatusCancelled); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	a.Status = model.StatusCancelled
	a.UpdatedAt = s.now()

	metrics.IncTransition(string(model.StatusCancelled), string(actor.Role))
	s.invalidate(ctx)
	s.publish(ctx, events.AppointmentCancelled, a, actor.String())
	s.logger.Info().Str("appointment_id", id).Str("actor", actor.String()).Msg("appointment cancelled")
	return a, nil
}

// BatchResult is the outcome of one id in a bulk action.
type BatchResult struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Code   string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// ApproveMany approves each id independently.
func (s *Service) ApproveMany(ctx context.Context, ids []string) []BatchResult {
	return s.batch(ids, func(id string) (*model.Appointment, error) { return s.ApproveBooking(ctx, id) })
}

// CancelMany cancels each id independently as an administrator.
func (s *Service) CancelMany(ctx context.Context, ids []string, admin Actor) []BatchResult {
	return s.batch(ids, func(id string) (*model.Appointment, error) { return s.CancelBooking(ctx, id, admin) })
}

func (s *Service) batch(ids []string, fn func(id string) (*model.Appointment, error)) []BatchResult {
	out := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		a, err := fn(id)
		r := BatchResult{ID: id, Err: err}
		if err != nil {
			r.Code = model.Code(err)
		} else {
			r.Status = string(a.Status)
		}
		out = append(out, r)
	}
	return out
}

// GetSettings returns the booking settings, creating them on first access.
func (s *Service) GetSettings(ctx context.Context) (model.BookingSettings, error) {
	return s.settings.GetOrCreateSettings(ctx)
}

// SettingsUpdate carries optional changes to the settings.
type SettingsUpdate struct {
	Enabled      *bool
	Instructions *string
}

// UpdateSettings applies the non-nil fields of u.
func (s *Service) UpdateSettings(ctx context.Context, u SettingsUpdate) (model.BookingSettings, error) {
	current, err := s.settings.GetOrCreateSettings(ctx)
	if err != nil {
		return current, fmt.Errorf("load settings: %w", err)
	}
	if u.Enabled != nil {
		current.IsEnabled = *u.Enabled
	}
	if u.Instructions != nil {
		current.Instructions = strings.TrimSpace(*u.Instructions)
	}
	updated, err := s.settings.UpdateSettings(ctx, current)
	if err != nil {
		return updated, fmt.Errorf("update settings: %w", err)
	}
	s.invalidate(ctx)
	s.logger.Info().Bool("enabled", updated.IsEnabled).Msg("booking settings updated")
	return updated, nil
}

// SetBookingEnabled turns booking on or off.
func (s *Service) SetBookingEnabled(ctx context.Context, enabled bool) (model.BookingSettings, error) {
	return s.UpdateSettings(ctx, SettingsUpdate{Enabled: &enabled})
}

// SetInstructions replaces the visitor instructions.
func (s *Service) SetInstructions(ctx context.Context, text string) (model.BookingSettings, error) {
	return s.UpdateSettings(ctx, SettingsUpdate{Instructions: &text})
}

// WindowView is a window with its derived slot count.
type WindowView struct {
	model.AvailabilityWindow
	SlotCount int `json:"slot_count"`
}

// ListWindows returns every window with its slot count.
func (s *Service) ListWindows(ctx context.Context) ([]WindowView, error) {
	ws, err := s.windows.ListWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	out := make([]WindowView, len(ws))
	for i, w := range ws {
		out[i] = WindowView{AvailabilityWindow: w, SlotCount: w.SlotCount()}
	}
	return out, nil
}

// UpsertAvailabilityWindow validates and stores w; w.ID zero creates a new window.
func (s *Service) UpsertAvailabilityWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	if w.SlotDuration == 0 {
		w.SlotDuration = model.DefaultSlotDuration
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if err := s.windows.UpsertWindow(ctx, w); err != nil {
		return fmt.Errorf("save window: %w", err)
	}
	s.invalidate(ctx)
	s.logger.Info().Int64("window_id", w.ID).Str("window", w.String()).Bool("active", w.IsActive).Msg("availability window saved")
	return nil
}

// SetWindowsActive activates or deactivates windows in bulk.
func (s *Service) SetWindowsActive(ctx context.Context, ids []int64, active bool) (int64, error) {
	n, err := s.windows.SetWindowsActive(ctx, ids, active)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	s.logger.Info().Int64("updated", n).Bool("active", active).Msg("availability windows toggled")
	return n, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Service) publish(ctx context.Context, typ string, a *model.Appointment, actor string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, events.Event{Type: typ, Appointment: *a, Actor: actor, CreatedAt: s.now()})
}
