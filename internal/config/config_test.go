package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"appointdesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("booking:\n  timezone: UTC\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "data/appointdesk.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Booking.WindowDays)
	assert.Equal(t, 30*time.Second, cfg.ReloadInterval())
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL())
	assert.Equal(t, time.Minute, cfg.SlotCacheTTL())
	assert.Equal(t, "0 9 1 * *", cfg.Audit.Schedule)
	assert.Equal(t, "console", cfg.Logging.Format)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestTrustedProxyNets(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  trusted_proxies: [\"10.0.0.0/8\", \"192.0.2.10\", \"::1\"]\n"))
	require.NoError(t, err)

	nets, err := cfg.TrustedProxyNets()
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.True(t, nets[0].Contains(net.ParseIP("10.20.30.40")))
	assert.True(t, nets[1].Contains(net.ParseIP("192.0.2.10")))
	assert.False(t, nets[1].Contains(net.ParseIP("192.0.2.11")))
	assert.True(t, nets[2].Contains(net.ParseIP("::1")))
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	cfg, err := Parse([]byte("auth:\n  jwt_secret: \"${TEST_JWT_SECRET}\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown timezone", "booking:\n  timezone: Mars/Olympus\n"},
		{"telegram without token", "telegram:\n  enabled: true\n"},
		{"email without key", "email:\n  enabled: true\n  from_address: a@b.c\n"},
		{"sheets without spreadsheet", "sheets:\n  enabled: true\n  credentials_file: c.json\n"},
		{"reminders without email", "reminders:\n  enabled: true\n"},
		{"report without telegram", "audit:\n  monthly_report: true\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad trusted proxy", "server:\n  trusted_proxies: [\"10.0.0.0/33\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

const availabilityYAML = `
settings:
  enabled: false
  instructions: "Bring your card."
deactivate_missing: true
windows:
  - day: monday
    start_time: "09:00"
    end_time: "12:00"
    slot_duration_minutes: 30
  - day: 3
    start_time: "14:00"
    end_time: "16:00"
    slot_duration_minutes: 60
    active: false
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAvailability(t *testing.T) {
	path := writeFile(t, t.TempDir(), "availability.yaml", availabilityYAML)

	cfg, err := LoadAvailability(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Settings.Enabled)
	assert.False(t, *cfg.Settings.Enabled)
	assert.True(t, cfg.DeactivateMissing)

	windows, err := cfg.ToWindows()
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, model.Monday, windows[0].DayOfWeek)
	assert.Equal(t, 6, windows[0].SlotCount())
	assert.Equal(t, model.Wednesday, windows[1].DayOfWeek)
	assert.False(t, windows[1].IsActive)
}

func TestLoadAvailabilityRejectsBadWindows(t *testing.T) {
	tests := []struct {
		name    string
		windows string
	}{
		{"bad day", "  - {day: someday, start_time: \"09:00\", end_time: \"10:00\", slot_duration_minutes: 30}\n"},
		{"inverted", "  - {day: monday, start_time: \"10:00\", end_time: \"09:00\", slot_duration_minutes: 30}\n"},
		{"too short", "  - {day: monday, start_time: \"09:00\", end_time: \"09:20\", slot_duration_minutes: 30}\n"},
		{"duplicate", "  - {day: monday, start_time: \"09:00\", end_time: \"10:00\", slot_duration_minutes: 30}\n" +
			"  - {day: 1, start_time: \"09:00\", end_time: \"10:00\", slot_duration_minutes: 15}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "availability.yaml", "windows:\n"+tt.windows)
			_, err := LoadAvailability(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadAvailabilityMissingFile(t *testing.T) {
	_, err := LoadAvailability(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchAvailabilityReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "availability.yaml", availabilityYAML)

	var (
		mu      sync.Mutex
		updates []*AvailabilityConfig
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchAvailability(ctx, path, 10*time.Millisecond, func(cfg *AvailabilityConfig) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, cfg)
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, updates, 1)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("windows:\n  - {day: friday, start_time: \"09:00\", end_time: \"10:00\", slot_duration_minutes: 30}\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2 && len(updates[1].Windows) == 1 && updates[1].Windows[0].Day == "friday"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAvailabilityRevisions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "availability.yaml", availabilityYAML)
	cfg, err := LoadAvailability(path)
	require.NoError(t, err)

	same, err := LoadAvailability(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Revision(), same.Revision())

	settingsRev := cfg.SettingsRevision()
	same.Windows[0].EndTime = "13:00"
	assert.NotEqual(t, cfg.WindowsRevision(), same.WindowsRevision())
	assert.Equal(t, settingsRev, same.SettingsRevision())

	same.DeactivateMissing = false
	assert.NotEqual(t, cfg.WindowsRevision(), same.WindowsRevision())

	empty := &AvailabilityConfig{}
	assert.Empty(t, empty.SettingsRevision())
	assert.NotEmpty(t, empty.WindowsRevision())
}

func TestAvailabilityWatcherIgnoresUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "availability.yaml", availabilityYAML)
	cfg, err := LoadAvailability(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)

	var updates []*AvailabilityConfig
	var errs []error
	w := &availabilityWatcher{
		path:     path,
		lastMod:  info.ModTime(),
		revision: cfg.Revision(),
		onUpdate: func(c *AvailabilityConfig) { updates = append(updates, c) },
		onError:  func(err error) { errs = append(errs, err) },
	}

	// Touched without edits.
	touched := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, touched, touched))
	w.poll()
	assert.Empty(t, updates)

	// Broken edit keeps the previous config.
	writeFile(t, dir, "availability.yaml", "windows: [")
	broken := touched.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, broken, broken))
	w.poll()
	assert.Empty(t, updates)
	assert.Len(t, errs, 1)

	writeFile(t, dir, "availability.yaml", availabilityYAML+"  - {day: friday, start_time: \"09:00\", end_time: \"10:00\", slot_duration_minutes: 30}\n")
	edited := broken.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, edited, edited))
	w.poll()
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].Windows, 3)
}
