package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"appointdesk/internal/model"

	"github.com/mattn/go-sqlite3"
)

// GetOrCreateSettings returns the settings row, creating it with defaults on first access.
func (db *DB) GetOrCreateSettings(ctx context.Context) (model.BookingSettings, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.BookingSettings{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	def := model.DefaultBookingSettings()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO booking_settings (id, is_enabled, instructions, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		model.SettingsID, boolInt(def.IsEnabled), def.Instructions, db.now(),
	); err != nil {
		return model.BookingSettings{}, fmt.Errorf("ensure settings: %w", err)
	}

	s, err := scanSettings(tx.QueryRowContext(ctx, settingsSelect, model.SettingsID))
	if err != nil {
		return model.BookingSettings{}, fmt.Errorf("read settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.BookingSettings{}, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// CreateSettings inserts the settings row. A second row is refused with ErrSingletonViolation.
func (db *DB) CreateSettings(ctx context.Context, s model.BookingSettings) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO booking_settings (id, is_enabled, instructions, updated_at)
		VALUES (?, ?, ?, ?)`,
		model.SettingsID, boolInt(s.IsEnabled), s.Instructions, db.now(),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return model.ErrSingletonViolation
	}
	if err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// UpdateSettings overwrites the singleton, creating it first when absent.
func (db *DB) UpdateSettings(ctx context.Context, s model.BookingSettings) (model.BookingSettings, error) {
	if _, err := db.GetOrCreateSettings(ctx); err != nil {
		return model.BookingSettings{}, err
	}
	now := db.now()
	if _, err := db.ExecContext(ctx, `
		UPDATE booking_settings SET is_enabled = ?, instructions = ?, updated_at = ?
		WHERE id = ?`,
		boolInt(s.IsEnabled), s.Instructions, now, model.SettingsID,
	); err != nil {
		return model.BookingSettings{}, fmt.Errorf("update settings: %w", err)
	}
	s.UpdatedAt = now
	return s, nil
}

// DeleteSettings is refused: the settings row cannot be removed.
func (db *DB) DeleteSettings(context.Context) error {
	return fmt.Errorf("delete settings: %w", model.ErrForbidden)
}

const settingsSelect = `SELECT is_enabled, instructions, updated_at FROM booking_settings WHERE id = ?`

func scanSettings(row *sql.Row) (model.BookingSettings, error) {
	var s model.BookingSettings
	var updated sql.NullTime
	if err := row.Scan(&s.IsEnabled, &s.Instructions, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, model.ErrNotFound
		}
		return s, err
	}
	s.UpdatedAt = updated.Time
	return s, nil
}
