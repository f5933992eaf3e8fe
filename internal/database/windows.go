package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"appointdesk/internal/model"
)

const windowColumns = `id, day_of_week, start_time, end_time, slot_duration, is_active, created_at, updated_at`

// ListWindows returns all windows ordered by day and start time.
func (db *DB) ListWindows(ctx context.Context) ([]model.AvailabilityWindow, error) {
	return db.queryWindows(ctx, `SELECT `+windowColumns+` FROM availability_windows
		ORDER BY day_of_week, start_time, end_time`)
}

// ListActiveWindows returns every active window.
func (db *DB) ListActiveWindows(ctx context.Context) ([]model.AvailabilityWindow, error) {
	return db.queryWindows(ctx, `SELECT `+windowColumns+` FROM availability_windows
		WHERE is_active = 1
		ORDER BY day_of_week, start_time, end_time`)
}

// ActiveWindowsForDay returns active windows on a weekday.
func (db *DB) ActiveWindowsForDay(ctx context.Context, day model.Weekday) ([]model.AvailabilityWindow, error) {
	return db.queryWindows(ctx, `SELECT `+windowColumns+` FROM availability_windows
		WHERE day_of_week = ? AND is_active = 1
		ORDER BY start_time, end_time`, int(day))
}

// GetWindow returns a window by id.
func (db *DB) GetWindow(ctx context.Context, id int64) (*model.AvailabilityWindow, error) {
	ws, err := db.queryWindows(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, model.ErrNotFound
	}
	return &ws[0], nil
}

// UpsertWindow inserts w when w.ID is zero, otherwise updates it in place.
// A clash on (day_of_week, start_time, end_time) returns ErrWindowExists.
func (db *DB) UpsertWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	if w == nil {
		return fmt.Errorf("window is nil")
	}
	now := db.now()

	if w.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO availability_windows (day_of_week, start_time, end_time, slot_duration, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			int(w.DayOfWeek), w.Start.String(), w.End.String(), w.SlotDuration, boolInt(w.IsActive), now, now,
		)
		if isConstraint(err) {
			return fmt.Errorf("%s: %w", w, model.ErrWindowExists)
		}
		if err != nil {
			return fmt.Errorf("insert window: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("window id: %w", err)
		}
		w.ID = id
		w.CreatedAt = now
		w.UpdatedAt = now
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE availability_windows
		SET day_of_week = ?, start_time = ?, end_time = ?, slot_duration = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		int(w.DayOfWeek), w.Start.String(), w.End.String(), w.SlotDuration, boolInt(w.IsActive), now, w.ID,
	)
	if isConstraint(err) {
		return fmt.Errorf("%s: %w", w, model.ErrWindowExists)
	}
	if err != nil {
		return fmt.Errorf("update window %d: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("window %d: %w", w.ID, model.ErrNotFound)
	}
	w.UpdatedAt = now
	return nil
}

// SetWindowsActive toggles is_active on the given windows and returns how many rows changed.
func (db *DB) SetWindowsActive(ctx context.Context, ids []int64, active bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, boolInt(active), db.now())
	for _, id := range ids {
		args = append(args, id)
	}
	q := `UPDATE availability_windows SET is_active = ?, updated_at = ?
		WHERE id IN (` + placeholders(len(ids)) + `)`
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("set windows active: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) queryWindows(ctx context.Context, query string, args ...interface{}) ([]model.AvailabilityWindow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var windows []model.AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWindow(row scanner) (model.AvailabilityWindow, error) {
	var (
		w          model.AvailabilityWindow
		day        int
		start, end string
		created    sql.NullTime
		updated    sql.NullTime
	)
	if err := row.Scan(&w.ID, &day, &start, &end, &w.SlotDuration, &w.IsActive, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w, model.ErrNotFound
		}
		return w, err
	}
	var err error
	w.DayOfWeek = model.Weekday(day)
	if w.Start, err = model.ParseTimeOfDay(start); err != nil {
		return w, fmt.Errorf("window %d start: %w", w.ID, err)
	}
	if w.End, err = model.ParseTimeOfDay(end); err != nil {
		return w, fmt.Errorf("window %d end: %w", w.ID, err)
	}
	w.CreatedAt = created.Time
	w.UpdatedAt = updated.Time
	return w, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
