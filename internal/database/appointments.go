package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointdesk/internal/model"

	"github.com/mattn/go-sqlite3"
)

const appointmentColumns = `id, name, email, phone, appointment_date, appointment_time,
	purpose, notes, status, created_at, updated_at`

// AppointmentFilter narrows ListAppointments.
type AppointmentFilter struct {
	Status   model.Status
	DateFrom time.Time
	DateTo   time.Time
	Email    string
	Limit    int
	Offset   int
}

// InsertAppointment stores a pending appointment. The statement itself is the
// authoritative slot check: a concurrent holder of the same date and time trips
// the partial unique index and ErrSlotTaken is returned. Booking is re-checked
// here as well, so a disabled system refuses the insert with ErrBookingDisabled.
func (db *DB) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	if a == nil {
		return fmt.Errorf("appointment is nil")
	}
	now := db.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = model.StatusPending
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO appointments (id, name, email, phone, appointment_date, appointment_time,
			purpose, notes, status, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE COALESCE((SELECT is_enabled FROM booking_settings WHERE id = ?), 1) = 1`,
		a.ID, a.Name, a.Email, a.Phone, a.DateString(), a.Time.String(),
		a.Purpose, a.Notes, string(a.Status), a.CreatedAt, a.UpdatedAt,
		model.SettingsID,
	)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return model.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	} else if n == 0 {
		return model.ErrBookingDisabled
	}
	return nil
}

// GetAppointment returns an appointment by id.
func (db *DB) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	row := db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	a, err := scanAppointment(row, db.loc)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAppointmentStatus moves an appointment from one status to another.
// The update only applies while the row still holds from; otherwise
// ErrInvalidTransition (or ErrNotFound for an unknown id) is returned.
func (db *DB) UpdateAppointmentStatus(ctx context.Context, id string, from, to model.Status) error {
	res, err := db.ExecContext(ctx, `
		UPDATE appointments SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), db.now(), id, string(from),
	)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return model.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check appointment %s: %w", id, err)
	}
	return fmt.Errorf("appointment %s no longer %s: %w", id, from, model.ErrInvalidTransition)
}

// TakenTimes returns the start times held by pending or approved appointments on date.
func (db *DB) TakenTimes(ctx context.Context, date time.Time) ([]model.TimeOfDay, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT appointment_time FROM appointments
		WHERE appointment_date = ? AND status IN ('pending', 'approved')
		ORDER BY appointment_time`,
		date.Format(model.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query taken times: %w", err)
	}
	defer rows.Close()

	var out []model.TimeOfDay
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		t, err := model.ParseTimeOfDay(raw)
		if err != nil {
			return nil, fmt.Errorf("stored time %q: %w", raw, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasActiveAppointment reports whether another pending or approved appointment
// holds date and time. excludingID is ignored when empty.
func (db *DB) HasActiveAppointment(ctx context.Context, date time.Time, at model.TimeOfDay, excludingID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE appointment_date = ? AND appointment_time = ?
		  AND status IN ('pending', 'approved')
		  AND id <> ?`,
		date.Format(model.DateLayout), at.String(), excludingID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return count > 0, nil
}

// ListAppointments returns appointments ordered by date and time.
func (db *DB) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.DateFrom.IsZero() {
		where = append(where, "appointment_date >= ?")
		args = append(args, f.DateFrom.Format(model.DateLayout))
	}
	if !f.DateTo.IsZero() {
		where = append(where, "appointment_date <= ?")
		args = append(args, f.DateTo.Format(model.DateLayout))
	}
	if f.Email != "" {
		where = append(where, "lower(email) = lower(?)")
		args = append(args, f.Email)
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY appointment_date, appointment_time, created_at"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows, db.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row scanner, loc *time.Location) (model.Appointment, error) {
	var (
		a                model.Appointment
		date, at, status string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &date, &at,
		&a.Purpose, &a.Notes, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, model.ErrNotFound
		}
		return a, err
	}
	if a.Date, err = time.ParseInLocation(model.DateLayout, date, loc); err != nil {
		return a, fmt.Errorf("appointment %s date: %w", a.ID, err)
	}
	if a.Time, err = model.ParseTimeOfDay(at); err != nil {
		return a, fmt.Errorf("appointment %s time: %w", a.ID, err)
	}
	a.Status = model.Status(status)
	return a, nil
}
