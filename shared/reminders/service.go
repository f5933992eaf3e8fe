// Package reminders emails clients ahead of their approved appointments.
package reminders

import (
	"context"
	"sync"
	"time"

	"appointdesk/internal/metrics"
	"appointdesk/internal/model"

	"github.com/rs/zerolog"
)

// Config holds configuration for the reminder service.
type Config struct {
	// CheckInterval is how often to look for upcoming appointments.
	// Default: 15 minutes.
	CheckInterval time.Duration

	// HoursBefore is how long before an appointment the reminder goes out.
	// Default: 24 hours.
	HoursBefore int

	// MaxConcurrent limits parallel sends.
	// Default: 10.
	MaxConcurrent int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 15 * time.Minute,
		HoursBefore:   24,
		MaxConcurrent: 10,
	}
}

// Stats summarizes one reminder run.
type Stats struct {
	Due    int
	Sent   int
	Failed int
}

// Service sends appointment reminders.
type Service struct {
	config   Config
	store    Store
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a new reminder service.
func NewService(config Config, store Store, notifier Notifier, loc *time.Location, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.HoursBefore <= 0 {
		config.HoursBefore = def.HoursBefore
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		config:   config,
		store:    store,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "reminders").Logger(),
	}
}

// WithClock overrides the clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start runs a check immediately and then every CheckInterval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Int("hours_before", s.config.HoursBefore).
		Msg("reminder service started")

	s.runLogged(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder service stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Service) runLogged(ctx context.Context) {
	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder run failed")
		return
	}
	if stats.Due > 0 {
		s.logger.Info().Int("due", stats.Due).Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("reminder run finished")
	}
}

// RunOnce sends every reminder that is due now. An appointment is due when it
// starts within the next HoursBefore hours.
func (s *Service) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := s.now().In(s.loc)
	cutoff := now.Add(time.Duration(s.config.HoursBefore) * time.Hour)

	candidates, err := s.store.DueReminders(ctx, model.DateOf(now), model.DateOf(cutoff))
	if err != nil {
		return stats, err
	}

	var due []model.Appointment
	for _, a := range candidates {
		start := a.StartsAt()
		if start.After(now) && !start.After(cutoff) {
			due = append(due, a)
		}
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.MaxConcurrent)
	)
	for _, a := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(a model.Appointment) {
			defer wg.Done()
			defer func() { <-sem }()

			sent, err := s.send(ctx, a, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				metrics.IncReminder("failed")
				s.logger.Error().Err(err).Str("appointment_id", a.ID).Msg("send reminder")
			case sent:
				stats.Sent++
				metrics.IncReminder("sent")
			}
		}(a)
	}
	wg.Wait()
	return stats, nil
}

func (s *Service) send(ctx context.Context, a model.Appointment, now time.Time) (bool, error) {
	claimed, err := s.store.ClaimReminder(ctx, a.ID, now)
	if err != nil || !claimed {
		return false, err
	}
	if err := s.notifier.SendReminder(ctx, a); err != nil {
		if relErr := s.store.ReleaseReminder(ctx, a.ID); relErr != nil {
			s.logger.Error().Err(relErr).Str("appointment_id", a.ID).Msg("release reminder claim")
		}
		return false, err
	}
	s.logger.Info().Str("appointment_id", a.ID).Time("starts_at", a.StartsAt()).Msg("reminder sent")
	return true, nil
}
