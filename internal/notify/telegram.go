// Package notify delivers appointment lifecycle notifications to managers
// over Telegram and to clients over email.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"appointdesk/internal/events"
	"appointdesk/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramSender is the part of tgbotapi.BotAPI used for delivery.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts new and cancelled appointments to manager chats.
type TelegramNotifier struct {
	sender  TelegramSender
	chats   []int64
	limiter *rate.Limiter
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewTelegramNotifier creates a notifier. Telegram allows about 30 messages
// per second per bot; the limiter stays well below that.
func NewTelegramNotifier(sender TelegramSender, chats []int64, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:  sender,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(20), 30),
		retry:   DefaultRetryConfig(),
		logger:  logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// WithRetry overrides the retry policy.
func (n *TelegramNotifier) WithRetry(cfg RetryConfig) *TelegramNotifier {
	n.retry = cfg
	return n
}

// Register subscribes the notifier to the events it reports.
func (n *TelegramNotifier) Register(bus *events.EventBus) {
	bus.Subscribe(events.AppointmentCreated, n.Handle)
	bus.Subscribe(events.AppointmentCancelled, n.Handle)
}

// Handle sends event to every manager chat. It returns the first delivery
// error after trying all chats.
func (n *TelegramNotifier) Handle(ctx context.Context, event events.Event) error {
	text := FormatManagerMessage(event)
	if text == "" {
		return nil
	}

	var firstErr error
	for _, chatID := range n.chats {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		msg := tgbotapi.NewMessage(chatID, text)
		err := withRetry(ctx, n.retry, func() error {
			_, err := n.sender.Send(msg)
			return err
		})
		if err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("appointment_id", event.Appointment.ID).Msg("send manager notification")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.logger.Debug().Int64("chat_id", chatID).Str("event", event.Type).Msg("manager notified")
	}
	return firstErr
}

// FormatManagerMessage renders the manager notification for event.
func FormatManagerMessage(event events.Event) string {
	a := event.Appointment
	var title string
	switch event.Type {
	case events.AppointmentCreated:
		title = "New appointment request"
	case events.AppointmentApproved:
		title = "Appointment approved"
	case events.AppointmentCancelled:
		title = "Appointment cancelled"
	default:
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "Client: %s\n", a.Name)
	fmt.Fprintf(&b, "Email: %s\n", a.Email)
	fmt.Fprintf(&b, "Phone: %s\n", a.Phone)
	fmt.Fprintf(&b, "When: %s at %s\n", model.FormatLongDate(a.Date), a.Time.Display())
	if a.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", a.Purpose)
	}
	if event.Actor != "" && event.Type == events.AppointmentCancelled {
		fmt.Fprintf(&b, "Cancelled by: %s\n", event.Actor)
	}
	fmt.Fprintf(&b, "ID: %s", a.ID)
	return b.String()
}

// SendDocument uploads a file to every manager chat.
func (n *TelegramNotifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	var firstErr error
	for _, chatID := range n.chats {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
		doc.Caption = caption
		err := withRetry(ctx, n.retry, func() error {
			_, err := n.sender.Send(doc)
			return err
		})
		if err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("filename", filename).Msg("send document")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
