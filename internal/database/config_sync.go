package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appointdesk/internal/config"
	"appointdesk/internal/model"
)

const (
	sectionSettings = "settings"
	sectionWindows  = "windows"
)

// SyncResult summarizes what SyncAvailabilityFromConfig changed.
type SyncResult struct {
	Upserted        int
	Deactivated     int64
	WindowsApplied  bool
	SettingsApplied bool
}

// Changed reports whether anything was written.
func (r SyncResult) Changed() bool {
	return r.WindowsApplied || r.SettingsApplied
}

// SyncAvailabilityFromConfig applies availability.yaml to the database.
//
// Each section is applied only when its content differs from the revision
// recorded the last time it was applied, so restarting with an unchanged
// file never overrides what administrators changed since. When the window
// list changed, windows are upserted by (day_of_week, start_time, end_time)
// and, with deactivate_missing set, stored windows absent from the file are
// turned off. When the settings block changed, the fields it sets overwrite
// the stored row.
func (db *DB) SyncAvailabilityFromConfig(ctx context.Context, cfg *config.AvailabilityConfig) (SyncResult, error) {
	var res SyncResult
	if cfg == nil {
		return res, fmt.Errorf("availability config is nil")
	}
	windows, err := cfg.ToWindows()
	if err != nil {
		return res, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now()

	windowsRev := cfg.WindowsRevision()
	applied, err := appliedRevision(ctx, tx, sectionWindows)
	if err != nil {
		return res, err
	}
	if applied != windowsRev {
		if err := syncWindows(ctx, tx, windows, cfg.DeactivateMissing, now, &res); err != nil {
			return res, err
		}
		if err := recordRevision(ctx, tx, sectionWindows, windowsRev, now); err != nil {
			return res, err
		}
		res.WindowsApplied = true
	}

	if settingsRev := cfg.SettingsRevision(); settingsRev != "" {
		applied, err := appliedRevision(ctx, tx, sectionSettings)
		if err != nil {
			return res, err
		}
		if applied != settingsRev {
			if err := syncSettings(ctx, tx, cfg.Settings, now); err != nil {
				return res, err
			}
			if err := recordRevision(ctx, tx, sectionSettings, settingsRev, now); err != nil {
				return res, err
			}
			res.SettingsApplied = true
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func appliedRevision(ctx context.Context, tx *sql.Tx, section string) (string, error) {
	var rev string
	err := tx.QueryRowContext(ctx, `SELECT revision FROM config_revisions WHERE section = ?`, section).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s revision: %w", section, err)
	}
	return rev, nil
}

func recordRevision(ctx context.Context, tx *sql.Tx, section, rev string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO config_revisions (section, revision, applied_at) VALUES (?, ?, ?)
		ON CONFLICT(section) DO UPDATE SET revision = excluded.revision, applied_at = excluded.applied_at`,
		section, rev, now)
	if err != nil {
		return fmt.Errorf("record %s revision: %w", section, err)
	}
	return nil
}

func syncWindows(ctx context.Context, tx *sql.Tx, windows []model.AvailabilityWindow, deactivateMissing bool, now time.Time, res *SyncResult) error {
	keep := make([]interface{}, 0, len(windows))
	for _, w := range windows {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO availability_windows (day_of_week, start_time, end_time, slot_duration, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(day_of_week, start_time, end_time) DO UPDATE SET
				slot_duration = excluded.slot_duration,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
			RETURNING id`,
			int(w.DayOfWeek), w.Start.String(), w.End.String(), w.SlotDuration, boolInt(w.IsActive), now, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("sync window %s: %w", w.String(), err)
		}
		keep = append(keep, id)
		res.Upserted++
	}

	if !deactivateMissing {
		return nil
	}
	q := `UPDATE availability_windows SET is_active = 0, updated_at = ? WHERE is_active = 1`
	args := []interface{}{now}
	if len(keep) > 0 {
		q += ` AND id NOT IN (` + placeholders(len(keep)) + `)`
		args = append(args, keep...)
	}
	r, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("deactivate missing windows: %w", err)
	}
	res.Deactivated, _ = r.RowsAffected()
	return nil
}

func syncSettings(ctx context.Context, tx *sql.Tx, sc config.SettingsConfig, now time.Time) error {
	def := model.DefaultBookingSettings()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO booking_settings (id, is_enabled, instructions, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		model.SettingsID, boolInt(def.IsEnabled), def.Instructions, now,
	); err != nil {
		return fmt.Errorf("ensure settings: %w", err)
	}
	if sc.Enabled != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE booking_settings SET is_enabled = ?, updated_at = ? WHERE id = ?`,
			boolInt(*sc.Enabled), now, model.SettingsID); err != nil {
			return fmt.Errorf("sync settings: %w", err)
		}
	}
	if sc.Instructions != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE booking_settings SET instructions = ?, updated_at = ? WHERE id = ?`,
			*sc.Instructions, now, model.SettingsID); err != nil {
			return fmt.Errorf("sync settings: %w", err)
		}
	}
	return nil
}

// SeedDefaultWindows inserts the stock weekday windows when no window exists yet.
func (db *DB) SeedDefaultWindows(ctx context.Context) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM availability_windows`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count windows: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	created := 0
	for _, w := range config.DefaultWindows() {
		w := w
		if err := db.UpsertWindow(ctx, &w); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
