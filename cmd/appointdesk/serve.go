package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"appointdesk/internal/api"
	"appointdesk/internal/booking"
	"appointdesk/internal/cache"
	"appointdesk/internal/config"
	"appointdesk/internal/database"
	"appointdesk/internal/events"
	"appointdesk/internal/metrics"
	"appointdesk/internal/notify"
	"appointdesk/internal/sheets"
	"appointdesk/shared/access"
	"appointdesk/shared/audit"
	"appointdesk/shared/reminders"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	db, err := openDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if _, err := db.GetOrCreateSettings(ctx); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	slotCache := cache.NewSlotCache(rdb, cfg.SlotCacheTTL(), logger)

	bus := events.NewEventBus(
		events.WithAsync(),
		events.WithErrorHandler(func(e events.Event, err error) {
			logger.Error().Err(err).Str("event", e.Type).Str("appointment_id", e.Appointment.ID).Msg("event handler failed")
		}),
	)
	defer bus.Wait()

	outbound, err := registerNotifiers(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}

	watchAvailability(ctx, cfg, db, slotCache, logger)

	svc := booking.NewService(db, db, db, logger,
		booking.WithCache(slotCache),
		booking.WithEvents(bus),
		booking.WithLocation(loc),
		booking.WithWindowDays(cfg.Booking.WindowDays),
	)

	var acc *access.Service
	if cfg.Auth.JWTSecret != "" {
		acc = access.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.TokenTTL(), cfg.Auth.Admins, logger)
	} else {
		logger.Warn().Msg("auth.jwt_secret is empty, admin API disabled")
	}
	auditSvc := audit.NewService(db, outbound.reports, logger)

	if cfg.Reminders.Enabled {
		rem := reminders.NewService(reminders.Config{
			CheckInterval: time.Duration(cfg.Reminders.CheckIntervalMinutes) * time.Minute,
			HoursBefore:   cfg.Reminders.HoursBefore,
		}, db, outbound.reminders, loc, logger)
		go rem.Start(ctx)
	}

	go func() {
		if err := database.NewBackupService(db, cfg.Backup, logger).Start(ctx); err != nil {
			logger.Error().Err(err).Msg("backup service stopped")
		}
	}()

	if cfg.Audit.MonthlyReport {
		c := cron.New(cron.WithLocation(loc))
		if _, err := c.AddFunc(cfg.Audit.Schedule, func() {
			if err := auditSvc.MonthlyReport(ctx); err != nil {
				logger.Error().Err(err).Msg("monthly report failed")
			}
		}); err != nil {
			return fmt.Errorf("parse audit schedule %q: %w", cfg.Audit.Schedule, err)
		}
		c.Start()
		defer c.Stop()
		logger.Info().Str("schedule", cfg.Audit.Schedule).Msg("monthly report scheduled")
	}

	checks := map[string]api.ReadyCheck{
		"db": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	if cfg.Monitoring.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Monitoring.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g := api.NewGRPCHealth(checks, 10*time.Second, logger)
		go func() {
			if err := g.Serve(ctx, lis); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		}()
	}

	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	srv := api.NewHTTPServer(api.Options{
		Booking:         svc,
		Access:          acc,
		Audit:           auditSvc,
		Logger:          logger,
		SubmitPerMinute: cfg.Booking.SubmitPerMinute,
		SubmitBurst:     cfg.Booking.SubmitBurst,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ReadyChecks:     checks,
		TrustedProxies:  proxies,
	})

	logger.Info().Str("timezone", loc.String()).Msg("appointdesk started")
	return srv.Run(ctx, cfg.Server.Address,
		time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSeconds)*time.Second)
}

type outboundChannels struct {
	reports   audit.Notifier
	reminders reminders.Notifier
}

// registerNotifiers subscribes the enabled outbound channels to bus and
// returns the ones used by monthly reports and reminders.
func registerNotifiers(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger zerolog.Logger) (outboundChannels, error) {
	var out outboundChannels

	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return out, fmt.Errorf("create telegram bot: %w", err)
		}
		tg := notify.NewTelegramNotifier(bot, cfg.Telegram.ManagerChats, logger)
		tg.Register(bus)
		out.reports = tg
		logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.ManagerChats)).Msg("telegram notifications enabled")
	}

	if cfg.Email.Enabled {
		email := notify.NewSendGridNotifier(cfg.Email.APIKey, cfg.Email.FromName, cfg.Email.FromAddress, logger)
		email.Register(bus)
		out.reminders = email
		logger.Info().Str("from", cfg.Email.FromAddress).Msg("email notifications enabled")
	}

	if cfg.Sheets.Enabled {
		sh, err := sheets.NewSheetsService(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, logger)
		if err != nil {
			return out, fmt.Errorf("create sheets service: %w", err)
		}
		if err := sh.EnsureHeader(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not write sheet header")
		}
		sh.Register(bus)
		logger.Info().Str("sheet", cfg.Sheets.SheetName).Msg("google sheets mirror enabled")
	}

	return out, nil
}

// watchAvailability applies availability.yaml now and whenever it changes.
// Without the file the stock weekday windows are seeded instead.
func watchAvailability(ctx context.Context, cfg *config.Config, db *database.DB, slotCache *cache.SlotCache, logger zerolog.Logger) {
	path := cfg.Booking.AvailabilityPath
	apply := func(ac *config.AvailabilityConfig) {
		res, err := db.SyncAvailabilityFromConfig(ctx, ac)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("availability sync failed")
			return
		}
		if !res.Changed() {
			logger.Debug().Str("path", path).Msg("availability unchanged since last sync")
			return
		}
		slotCache.Invalidate(ctx)
		logger.Info().
			Bool("windows", res.WindowsApplied).
			Bool("settings", res.SettingsApplied).
			Int("upserted", res.Upserted).
			Int64("deactivated", res.Deactivated).
			Msg("availability synced")
	}
	onError := func(err error) {
		logger.Error().Err(err).Str("path", path).Msg("availability reload failed")
	}

	err := config.WatchAvailability(ctx, path, cfg.ReloadInterval(), apply, onError)
	if err == nil {
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		logger.Error().Err(err).Str("path", path).Msg("availability config not loaded")
	}
	created, err := db.SeedDefaultWindows(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("seed default windows failed")
		return
	}
	if created > 0 {
		logger.Info().Int("created", created).Msg("default windows seeded")
	}
}

func startMetricsServer(ctx context.Context, port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
