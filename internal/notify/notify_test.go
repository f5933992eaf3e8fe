package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"appointdesk/internal/events"
	"appointdesk/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxRetries: 2, RetryDelays: []time.Duration{time.Millisecond}}

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	docs []tgbotapi.DocumentConfig
	errs []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, v)
	case tgbotapi.DocumentConfig:
		f.docs = append(f.docs, v)
	}
	return tgbotapi.Message{}, nil
}

type fakeMail struct {
	sent   []*mail.SGMailV3
	status []int
}

func (f *fakeMail) Send(m *mail.SGMailV3) (*rest.Response, error) {
	code := http.StatusAccepted
	if len(f.status) > 0 {
		code = f.status[0]
		f.status = f.status[1:]
	}
	if code < 300 {
		f.sent = append(f.sent, m)
	}
	return &rest.Response{StatusCode: code, Body: http.StatusText(code)}, nil
}

func testEvent(typ string) events.Event {
	return events.Event{
		Type: typ,
		Appointment: model.Appointment{
			ID:      "a1",
			Name:    "Ada Lovelace",
			Email:   "ada@example.com",
			Phone:   "+1 555 0100",
			Date:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			Time:    model.MustTimeOfDay("14:30"),
			Purpose: "Consultation",
			Status:  model.StatusPending,
		},
		Actor: "owner",
	}
}

func TestFormatManagerMessage(t *testing.T) {
	text := FormatManagerMessage(testEvent(events.AppointmentCreated))
	assert.Contains(t, text, "New appointment request")
	assert.Contains(t, text, "When: Monday, March 02, 2026 at 02:30 PM")

	text = FormatManagerMessage(testEvent(events.AppointmentCancelled))
	assert.Contains(t, text, "Cancelled by: owner")

	assert.Empty(t, FormatManagerMessage(events.Event{Type: "unknown"}))
}

func TestTelegramNotifierSendsToAllChats(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, []int64{100, 200}, zerolog.New(io.Discard)).WithRetry(fastRetry)

	require.NoError(t, n.Handle(context.Background(), testEvent(events.AppointmentCreated)))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(100), sender.sent[0].ChatID)
	assert.Equal(t, int64(200), sender.sent[1].ChatID)
}

func TestTelegramNotifierRetries(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: http.StatusTooManyRequests, Message: "Too Many Requests"},
		errors.New("connection reset"),
	}}
	n := NewTelegramNotifier(sender, []int64{100}, zerolog.New(io.Discard)).WithRetry(fastRetry)

	require.NoError(t, n.Handle(context.Background(), testEvent(events.AppointmentCancelled)))
	assert.Len(t, sender.sent, 1)
}

func TestTelegramNotifierStopsOnForbidden(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: http.StatusForbidden, Message: "bot was blocked by the user"},
	}}
	n := NewTelegramNotifier(sender, []int64{100, 200}, zerolog.New(io.Discard)).WithRetry(fastRetry)

	err := n.Handle(context.Background(), testEvent(events.AppointmentCreated))
	require.Error(t, err)
	// The second chat still gets the message.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(200), sender.sent[0].ChatID)
}

func TestTelegramNotifierViaBus(t *testing.T) {
	sender := &fakeSender{}
	bus := events.NewEventBus()
	NewTelegramNotifier(sender, []int64{1}, zerolog.New(io.Discard)).Register(bus)

	bus.Publish(context.Background(), testEvent(events.AppointmentApproved))
	assert.Empty(t, sender.sent, "managers are not told about approvals")

	bus.Publish(context.Background(), testEvent(events.AppointmentCreated))
	assert.Len(t, sender.sent, 1)
}

func TestTelegramSendDocument(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, []int64{7, 8}, zerolog.New(io.Discard)).WithRetry(fastRetry)

	err := n.SendDocument(context.Background(), "report.xlsx", strings.NewReader("xlsx"), "March report")
	require.NoError(t, err)
	require.Len(t, sender.docs, 2)
	assert.Equal(t, "March report", sender.docs[1].Caption)
	assert.Equal(t, int64(8), sender.docs[1].ChatID)
}

func TestEmailNotifier(t *testing.T) {
	client := &fakeMail{}
	n := NewEmailNotifier(client, "Front Desk", "desk@example.com", zerolog.New(io.Discard)).WithRetry(fastRetry)

	require.NoError(t, n.Handle(context.Background(), testEvent(events.AppointmentApproved)))
	require.Len(t, client.sent, 1)
	m := client.sent[0]
	assert.Equal(t, "Appointment confirmed", m.Subject)
	assert.Equal(t, "desk@example.com", m.From.Address)
	assert.Equal(t, "ada@example.com", m.Personalizations[0].To[0].Address)
}

func TestEmailNotifierSendReminder(t *testing.T) {
	client := &fakeMail{}
	n := NewEmailNotifier(client, "Front Desk", "desk@example.com", zerolog.New(io.Discard)).WithRetry(fastRetry)

	a := testEvent(events.AppointmentApproved).Appointment
	require.NoError(t, n.SendReminder(context.Background(), a))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Appointment reminder", client.sent[0].Subject)
	assert.Contains(t, client.sent[0].Content[0].Value, a.ID)

	a.Email = ""
	require.NoError(t, n.SendReminder(context.Background(), a))
	assert.Len(t, client.sent, 1)
}

func TestEmailNotifierRetriesServerErrors(t *testing.T) {
	client := &fakeMail{status: []int{http.StatusServiceUnavailable, http.StatusAccepted}}
	n := NewEmailNotifier(client, "Front Desk", "desk@example.com", zerolog.New(io.Discard)).WithRetry(fastRetry)

	require.NoError(t, n.Handle(context.Background(), testEvent(events.AppointmentCreated)))
	assert.Len(t, client.sent, 1)
}

func TestEmailNotifierGivesUpOnClientErrors(t *testing.T) {
	client := &fakeMail{status: []int{http.StatusUnauthorized, http.StatusAccepted}}
	n := NewEmailNotifier(client, "Front Desk", "desk@example.com", zerolog.New(io.Discard)).WithRetry(fastRetry)

	err := n.Handle(context.Background(), testEvent(events.AppointmentCreated))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Empty(t, client.sent)
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxRetries: 3, RetryDelays: []time.Duration{time.Hour}}

	err := withRetry(ctx, cfg, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}
