package notify

import (
	"context"
	"fmt"

	"appointdesk/internal/events"
	"appointdesk/internal/model"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// MailClient is satisfied by *sendgrid.Client.
type MailClient interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// EmailNotifier emails clients about their appointments through SendGrid.
type EmailNotifier struct {
	client   MailClient
	fromName string
	fromAddr string
	retry    RetryConfig
	logger   zerolog.Logger
}

// NewSendGridNotifier creates an EmailNotifier backed by the SendGrid API.
func NewSendGridNotifier(apiKey, fromName, fromAddr string, logger zerolog.Logger) *EmailNotifier {
	return NewEmailNotifier(sendgrid.NewSendClient(apiKey), fromName, fromAddr, logger)
}

func NewEmailNotifier(client MailClient, fromName, fromAddr string, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		client:   client,
		fromName: fromName,
		fromAddr: fromAddr,
		retry:    DefaultRetryConfig(),
		logger:   logger.With().Str("component", "email_notifier").Logger(),
	}
}

// WithRetry overrides the retry policy.
func (n *EmailNotifier) WithRetry(cfg RetryConfig) *EmailNotifier {
	n.retry = cfg
	return n
}

// Register subscribes the notifier to every appointment event.
func (n *EmailNotifier) Register(bus *events.EventBus) {
	bus.Subscribe(events.AppointmentCreated, n.Handle)
	bus.Subscribe(events.AppointmentApproved, n.Handle)
	bus.Subscribe(events.AppointmentCancelled, n.Handle)
}

// Handle emails the appointment owner.
func (n *EmailNotifier) Handle(ctx context.Context, event events.Event) error {
	subject, body := FormatClientEmail(event)
	if subject == "" {
		return nil
	}
	return n.send(ctx, event.Appointment, subject, body, event.Type)
}

// SendReminder emails the owner of an upcoming appointment.
func (n *EmailNotifier) SendReminder(ctx context.Context, a model.Appointment) error {
	subject, body := FormatReminderEmail(a)
	return n.send(ctx, a, subject, body, "reminder")
}

func (n *EmailNotifier) send(ctx context.Context, a model.Appointment, subject, body, kind string) error {
	if a.Email == "" {
		return nil
	}
	from := mail.NewEmail(n.fromName, n.fromAddr)
	to := mail.NewEmail(a.Name, a.Email)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	err := withRetry(ctx, n.retry, func() error {
		resp, err := n.client.Send(message)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429:
			return Permanent(fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body))
		default:
			return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
		}
	})
	if err != nil {
		n.logger.Error().Err(err).Str("appointment_id", a.ID).Str("kind", kind).Msg("send client email")
		return err
	}
	n.logger.Info().Str("appointment_id", a.ID).Str("kind", kind).Msg("client email sent")
	return nil
}

// FormatClientEmail renders the subject and plain text body sent to the client.
func FormatClientEmail(event events.Event) (string, string) {
	a := event.Appointment
	when := fmt.Sprintf("%s at %s", model.FormatLongDate(a.Date), a.Time.Display())

	switch event.Type {
	case events.AppointmentCreated:
		return "Appointment request received",
			fmt.Sprintf("Hello %s,\n\nWe received your appointment request for %s. "+
				"It is pending review and you will get another email once it is approved.\n\n"+
				"Reference: %s\n", a.Name, when, a.ID)
	case events.AppointmentApproved:
		return "Appointment confirmed",
			fmt.Sprintf("Hello %s,\n\nYour appointment on %s has been approved.\n\nReference: %s\n", a.Name, when, a.ID)
	case events.AppointmentCancelled:
		return "Appointment cancelled",
			fmt.Sprintf("Hello %s,\n\nYour appointment on %s has been cancelled.\n\nReference: %s\n", a.Name, when, a.ID)
	}
	return "", ""
}

// FormatReminderEmail renders the reminder sent ahead of an approved appointment.
func FormatReminderEmail(a model.Appointment) (string, string) {
	return "Appointment reminder",
		fmt.Sprintf("Hello %s,\n\nThis is a reminder of your appointment on %s at %s.\n"+
			"If you can no longer attend, please cancel it so the slot can be offered to someone else.\n\n"+
			"Reference: %s\n", a.Name, model.FormatLongDate(a.Date), a.Time.Display(), a.ID)
}
