package booking

import (
	"strings"

	"appointdesk/internal/model"
)

// Role distinguishes who performs an action.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Actor identifies the caller of a state-changing operation. Owners prove
// ownership by the email the appointment was booked with.
type Actor struct {
	Role    Role
	Email   string
	Subject string
}

func Owner(email string) Actor {
	return Actor{Role: RoleOwner, Email: strings.TrimSpace(email)}
}

func Admin(subject string) Actor {
	return Actor{Role: RoleAdmin, Subject: subject}
}

func (a Actor) String() string {
	if a.Role == RoleAdmin {
		if a.Subject == "" {
			return "admin"
		}
		return "admin:" + a.Subject
	}
	return "owner"
}

func (a Actor) owns(appt *model.Appointment) bool {
	return a.Email != "" && strings.EqualFold(a.Email, appt.Email)
}
