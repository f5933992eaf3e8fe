package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"appointdesk/internal/config"
	"appointdesk/internal/database"
	"appointdesk/internal/model"
	"appointdesk/shared/access"
	"appointdesk/shared/audit"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const usage = `usage: appointdesk <command> [flags]

commands:
  serve    run the booking API (default)
  seed     create the default weekday windows and apply availability.yaml
  export   write appointments and windows to an .xlsx workbook
  token    issue an admin JWT
`

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("APPOINTDESK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "seed":
		err = runSeed(ctx, cfg, logger)
	case "export":
		err = runExport(ctx, cfg, logger, args)
	case "token":
		err = runToken(cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("command failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("service", "appointdesk").Logger()
}

func openDB(cfg *config.Config, logger zerolog.Logger) (*database.DB, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}
	return database.NewDB(cfg.Database.Path, logger, database.WithLocation(loc))
}

func runSeed(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.GetOrCreateSettings(ctx); err != nil {
		return err
	}

	ac, err := config.LoadAvailability(cfg.Booking.AvailabilityPath)
	if errors.Is(err, fs.ErrNotExist) {
		created, err := db.SeedDefaultWindows(ctx)
		if err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Booking.AvailabilityPath).Int("created", created).Msg("no availability file, default windows seeded")
		return nil
	}
	if err != nil {
		return err
	}
	res, err := db.SyncAvailabilityFromConfig(ctx, ac)
	if err != nil {
		return err
	}
	logger.Info().
		Bool("windows", res.WindowsApplied).
		Bool("settings", res.SettingsApplied).
		Int("upserted", res.Upserted).
		Int64("deactivated", res.Deactivated).
		Msg("availability synced")
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fsFlags := flag.NewFlagSet("export", flag.ExitOnError)
	out := fsFlags.String("o", "", "output file (default appointments_YYYY-MM.xlsx)")
	status := fsFlags.String("status", "", "only export appointments with this status")
	from := fsFlags.String("from", "", "first date, YYYY-MM-DD")
	to := fsFlags.String("to", "", "last date, YYYY-MM-DD")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	var filter database.AppointmentFilter
	if *status != "" {
		st, ok := model.ParseStatus(*status)
		if !ok {
			return fmt.Errorf("unknown status %q", *status)
		}
		filter.Status = st
	}
	if *from != "" {
		if filter.DateFrom, err = model.ParseDate(*from, loc); err != nil {
			return fmt.Errorf("-from: %w", err)
		}
	}
	if *to != "" {
		if filter.DateTo, err = model.ParseDate(*to, loc); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	path := *out
	if path == "" {
		path = audit.GenerateFilename(time.Now().In(loc))
	}
	if err := audit.NewService(db, nil, logger).ExportToFile(ctx, path, filter); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("export written")
	return nil
}

func runToken(cfg *config.Config, logger zerolog.Logger, args []string) error {
	fsFlags := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fsFlags.String("sub", "", "admin subject")
	ttl := fsFlags.Duration("ttl", cfg.TokenTTL(), "token lifetime")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-sub is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	svc := access.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *ttl, cfg.Auth.Admins, logger)
	token, err := svc.IssueToken(*subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
