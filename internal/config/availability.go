package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"appointdesk/internal/model"

	"gopkg.in/yaml.v3"
)

// WindowConfig is one weekly window in availability.yaml.
type WindowConfig struct {
	Day                 string `yaml:"day"`                   // "monday" or 1..7
	StartTime           string `yaml:"start_time"`            // "09:00"
	EndTime             string `yaml:"end_time"`              // "17:00"
	SlotDurationMinutes int    `yaml:"slot_duration_minutes"` // 30
	Active              *bool  `yaml:"active,omitempty"`
}

// SettingsConfig seeds the booking settings row. Unset fields are left untouched.
type SettingsConfig struct {
	Enabled      *bool   `yaml:"enabled,omitempty"`
	Instructions *string `yaml:"instructions,omitempty"`
}

// AvailabilityConfig is the root of availability.yaml.
type AvailabilityConfig struct {
	Settings SettingsConfig `yaml:"settings"`
	Windows  []WindowConfig `yaml:"windows"`
	// DeactivateMissing makes the file authoritative: whenever the window
	// list changes, stored windows absent from it are turned off, including
	// ones created through the admin API.
	DeactivateMissing bool `yaml:"deactivate_missing"`
}

// SettingsRevision fingerprints the settings block. It is empty when the
// file sets no settings.
func (c *AvailabilityConfig) SettingsRevision() string {
	if c.Settings.Enabled == nil && c.Settings.Instructions == nil {
		return ""
	}
	return fingerprint(c.Settings)
}

// WindowsRevision fingerprints the window list and the deactivation mode.
func (c *AvailabilityConfig) WindowsRevision() string {
	return fingerprint(struct {
		Windows           []WindowConfig `yaml:"windows"`
		DeactivateMissing bool           `yaml:"deactivate_missing"`
	}{c.Windows, c.DeactivateMissing})
}

// Revision changes whenever either section changes.
func (c *AvailabilityConfig) Revision() string {
	return c.SettingsRevision() + ":" + c.WindowsRevision()
}

func fingerprint(v interface{}) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DefaultWindows mirrors the stock office hours: Monday to Friday, 09:00-17:00, 30 minute slots.
func DefaultWindows() []model.AvailabilityWindow {
	out := make([]model.AvailabilityWindow, 0, 5)
	for day := model.Monday; day <= model.Friday; day++ {
		out = append(out, model.AvailabilityWindow{
			DayOfWeek:    day,
			Start:        model.NewTimeOfDay(9, 0),
			End:          model.NewTimeOfDay(17, 0),
			SlotDuration: model.DefaultSlotDuration,
			IsActive:     true,
		})
	}
	return out
}

// LoadAvailability loads and validates availability.yaml.
func LoadAvailability(path string) (*AvailabilityConfig, error) {
	if path == "" {
		path = "configs/availability.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read availability config: %w", err)
	}

	var cfg AvailabilityConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse availability config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate availability config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every window and rejects duplicates.
func (c *AvailabilityConfig) Validate() error {
	seen := make(map[model.WindowKey]int)
	for i := range c.Windows {
		w, err := c.Windows[i].toWindow()
		if err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
		if prev, ok := seen[w.Key()]; ok {
			return fmt.Errorf("windows[%d]: duplicates windows[%d] (%s)", i, prev, w.String())
		}
		seen[w.Key()] = i
	}
	return nil
}

// ToWindows converts the configured windows to model windows.
func (c *AvailabilityConfig) ToWindows() ([]model.AvailabilityWindow, error) {
	out := make([]model.AvailabilityWindow, 0, len(c.Windows))
	for i := range c.Windows {
		w, err := c.Windows[i].toWindow()
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func (wc *WindowConfig) toWindow() (model.AvailabilityWindow, error) {
	day, err := model.ParseWeekday(wc.Day)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	start, err := model.ParseTimeOfDay(wc.StartTime)
	if err != nil {
		return model.AvailabilityWindow{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := model.ParseTimeOfDay(wc.EndTime)
	if err != nil {
		return model.AvailabilityWindow{}, fmt.Errorf("end_time: %w", err)
	}

	w := model.AvailabilityWindow{
		DayOfWeek:    day,
		Start:        start,
		End:          end,
		SlotDuration: wc.SlotDurationMinutes,
		IsActive:     true,
	}
	if w.SlotDuration == 0 {
		w.SlotDuration = model.DefaultSlotDuration
	}
	if wc.Active != nil {
		w.IsActive = *wc.Active
	}
	if err := w.Validate(); err != nil {
		return model.AvailabilityWindow{}, err
	}
	return w, nil
}
