package model

import "time"

// SettingsID is the primary key of the only BookingSettings row.
const SettingsID = 1

// BookingSettings gates booking system-wide.
type BookingSettings struct {
	IsEnabled    bool      `json:"is_enabled"`
	Instructions string    `json:"instructions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultBookingSettings returns the settings created on first access.
func DefaultBookingSettings() BookingSettings {
	return BookingSettings{IsEnabled: true}
}
