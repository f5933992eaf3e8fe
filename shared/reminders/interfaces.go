package reminders

import (
	"context"
	"time"

	"appointdesk/internal/model"
)

// Store provides the approved appointments that still need a reminder.
type Store interface {
	// DueReminders returns approved, unreminded appointments dated from..to.
	DueReminders(ctx context.Context, from, to time.Time) ([]model.Appointment, error)

	// ClaimReminder atomically marks a reminder as sent.
	// Returns false if it was already claimed.
	ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error)

	// ReleaseReminder undoes a claim after a failed delivery.
	ReleaseReminder(ctx context.Context, id string) error
}

// Notifier delivers a reminder to the appointment owner.
type Notifier interface {
	SendReminder(ctx context.Context, a model.Appointment) error
}
