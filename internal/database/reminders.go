package database

import (
	"context"
	"fmt"
	"time"

	"appointdesk/internal/model"
)

// DueReminders returns approved appointments dated from..to (inclusive) whose
// reminder has not been sent.
func (db *DB) DueReminders(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE status = 'approved' AND reminder_sent_at IS NULL
		  AND appointment_date BETWEEN ? AND ?
		ORDER BY appointment_date, appointment_time`,
		from.Format(model.DateLayout), to.Format(model.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows, db.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClaimReminder marks the reminder of id as sent at at. It returns false when
// another run already claimed it.
func (db *DB) ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE appointments SET reminder_sent_at = ? WHERE id = ? AND reminder_sent_at IS NULL`,
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseReminder clears a claim so the next run retries the reminder.
func (db *DB) ReleaseReminder(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `UPDATE appointments SET reminder_sent_at = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("release reminder %s: %w", id, err)
	}
	return nil
}
