package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the appointment store.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time
	loc    *time.Location
}

// Option customizes DB.
type Option func(*DB)

// WithClock overrides the clock used for created_at / updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithLocation sets the location stored appointment dates are read in.
func WithLocation(loc *time.Location) Option {
	return func(db *DB) { db.loc = loc }
}

// NewDB opens the sqlite database at path and runs migrations.
func NewDB(path string, logger zerolog.Logger, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front so concurrent
	// writers queue on busy_timeout instead of failing on lock upgrade.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	db := &DB{
		DB:     sqlDB,
		path:   path,
		logger: logger.With().Str("component", "database").Logger(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.createTables(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db.logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		// Exactly one row, id = 1.
		`CREATE TABLE IF NOT EXISTS booking_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_enabled BOOLEAN NOT NULL DEFAULT 1,
			instructions TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS availability_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 1 AND 7),
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			slot_duration INTEGER NOT NULL DEFAULT 30 CHECK (slot_duration > 0),
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (day_of_week, start_time, end_time)
		)`,

		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			appointment_date TEXT NOT NULL,
			appointment_time TEXT NOT NULL,
			purpose TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'approved', 'cancelled')),
			reminder_sent_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// Last applied fingerprint per availability.yaml section.
		`CREATE TABLE IF NOT EXISTS config_revisions (
			section TEXT PRIMARY KEY,
			revision TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_windows_day_active ON availability_windows(day_of_week, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(appointment_date, appointment_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status)`,
		// No double-booking: one pending or approved appointment per slot.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_active_slot
			ON appointments(appointment_date, appointment_time)
			WHERE status IN ('pending', 'approved')`,
	}

	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if sqliteErr.ExtendedCode == c {
			return true
		}
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
