package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"appointdesk/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Backup writes a consistent copy of the database to dest using VACUUM INTO.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// CleanupBackups removes backup files in dir older than retention.
func CleanupBackups(dir string, retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := now.Add(-retention)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return deleted, fmt.Errorf("remove %s: %w", e.Name(), err)
			}
			deleted++
		}
	}
	return deleted, nil
}

const backupPrefix = "appointdesk_"

// BackupService runs scheduled backups on a cron expression.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    time.Now,
	}
}

// Start schedules backups and blocks until ctx is done.
func (s *BackupService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("parse backup schedule %q: %w", s.config.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.config.Schedule).Str("path", s.config.Path).Msg("backup service started")

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return nil
}

func (s *BackupService) run(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	if s.config.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(s.config.RetentionDays) * 24 * time.Hour
	deleted, err := CleanupBackups(s.config.Path, retention, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("backup cleanup failed")
	} else if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
}

// PerformBackup writes one timestamped backup and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	dest := filepath.Join(s.config.Path, fmt.Sprintf("%s%s.db", backupPrefix, s.now().Format("20060102_150405")))
	s.logger.Info().Str("path", dest).Msg("performing database backup")
	if err := s.db.Backup(ctx, dest); err != nil {
		return "", err
	}
	s.logger.Info().Str("path", dest).Msg("backup completed successfully")
	return dest, nil
}
