package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"appointdesk/internal/booking"
	"appointdesk/internal/database"
	"appointdesk/internal/model"
	"appointdesk/shared/access"
	"appointdesk/shared/audit"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// 2026-03-02 is a Monday.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	db     *database.DB
	server *HTTPServer
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), zerolog.Nop(),
		database.WithLocation(time.UTC), database.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, day := range []model.Weekday{model.Monday, model.Wednesday} {
		w := &model.AvailabilityWindow{
			DayOfWeek:    day,
			Start:        model.MustTimeOfDay("09:00"),
			End:          model.MustTimeOfDay("11:00"),
			SlotDuration: 30,
			IsActive:     true,
		}
		require.NoError(t, db.UpsertWindow(ctx, w))
	}

	svc := booking.NewService(db, db, db, zerolog.Nop(),
		booking.WithClock(clock), booking.WithLocation(time.UTC))
	acc := access.NewService("secret", "appointdesk", time.Hour, []string{"root"}, zerolog.Nop())
	token, err := acc.IssueToken("root")
	require.NoError(t, err)

	srv := NewHTTPServer(Options{
		Booking:         svc,
		Access:          acc,
		Audit:           audit.NewService(db, nil, zerolog.Nop()),
		Logger:          zerolog.Nop(),
		SubmitPerMinute: 60,
		SubmitBurst:     5,
		ReadyChecks: map[string]ReadyCheck{
			"db": func(ctx context.Context) error { return db.PingContext(ctx) },
		},
	})
	return &testEnv{db: db, server: srv, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func submitBody(date, at string) map[string]string {
	return map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"phone":   "+1 555 0100",
		"date":    date,
		"time":    at,
		"purpose": "Consultation",
	}
}

func TestListSlots(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantError  string
	}{
		{"missing date", "", http.StatusBadRequest, "No date provided"},
		{"bad format", "?date=02-03-2026", http.StatusBadRequest, "Invalid date format"},
		{"past date", "?date=2026-03-01", http.StatusBadRequest, "Cannot book appointments in the past"},
		{"no windows", "?date=2026-03-03", http.StatusNotFound, "No available time slots on Tuesday, March 03, 2026"},
		{"open", "?date=2026-03-02", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/slots"+tt.query, nil, false)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantError != "" {
				var resp errorResponse
				decode(t, rec, &resp)
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}
			var resp slotsResponse
			decode(t, rec, &resp)
			assert.Equal(t, "2026-03-02", resp.Date)
			require.Len(t, resp.Slots, 4)
			assert.Equal(t, slotView{Value: "09:00", Text: "09:00 AM", Formatted: "09:00 AM"}, resp.Slots[0])
		})
	}
}

func TestListSlotsWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.db.UpdateSettings(context.Background(), model.BookingSettings{IsEnabled: false})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/slots?date=2026-03-02", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Booking system is disabled")
}

func TestListDates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/dates?days=7", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Dates []booking.AvailableDate `json:"dates"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Dates, 2)
	assert.Equal(t, "2026-03-02", resp.Dates[0].Value)
	assert.Equal(t, "Wednesday", resp.Dates[1].DayName)

	rec = env.do(t, http.MethodGet, "/api/v1/dates?days=0", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAndOwnerFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-04", "09:30"), false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created appointmentView
	decode(t, rec, &created)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "Wednesday, March 04, 2026", created.FormattedDate)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	// Same slot again.
	rec = env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-04", "09:30"), false)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rejected errorResponse
	decode(t, rec, &rejected)
	require.Len(t, rejected.Violations, 1)
	assert.Equal(t, "slot_taken", rejected.Violations[0].Code)

	// The slot disappears from the listing.
	rec = env.do(t, http.MethodGet, "/api/v1/slots?date=2026-03-04", nil, false)
	var slotsResp slotsResponse
	decode(t, rec, &slotsResp)
	for _, sl := range slotsResp.Slots {
		assert.NotEqual(t, "09:30", sl.Value)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/appointments/"+created.ID+"?email=someone@else.com", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/appointments/"+created.ID+"?email=ada@example.com", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/appointments/"+created.ID+"/cancel", map[string]string{"email": "ada@example.com"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/appointments/"+created.ID+"/cancel", map[string]string{"email": "ada@example.com"}, false)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-03", "10:00"), false)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	codes := make([]string, len(resp.Violations))
	for i, v := range resp.Violations {
		codes[i] = v.Code
	}
	assert.Equal(t, []string{"day_unavailable", "slot_not_offered"}, codes)

	rec = env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-02", "25:00"), false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/appointments", map[string]string{"bogus": "x"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.server.limiter = newIPLimiter(1, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-02", "09:00"), false)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-02", "09:30"), false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSubmitRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	env := newTestEnv(t)
	env.server.limiter = newIPLimiter(1, 1)

	submit := func(at, forwardedFor string) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(submitBody("2026-03-02", at)))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, submit("09:00", "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, submit("09:30", "203.0.113.2"))
	assert.Equal(t, 1, env.server.limiter.size())
}

func TestClientIP(t *testing.T) {
	_, proxyNet, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	direct := &HTTPServer{}
	proxied := &HTTPServer{proxies: []*net.IPNet{proxyNet}}

	tests := []struct {
		name      string
		server    *HTTPServer
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{"no proxies ignores header", direct, "198.51.100.7:4000", "203.0.113.9", "", "198.51.100.7"},
		{"untrusted peer ignores header", proxied, "198.51.100.7:4000", "203.0.113.9", "", "198.51.100.7"},
		{"trusted proxy", proxied, "10.0.0.2:4000", "203.0.113.9", "", "203.0.113.9"},
		{"client-prepended hops ignored", proxied, "10.0.0.2:4000", "1.2.3.4, 203.0.113.9, 10.0.0.3", "", "203.0.113.9"},
		{"garbage hop stops the walk", proxied, "10.0.0.2:4000", "nonsense", "", "10.0.0.2"},
		{"real ip from trusted proxy", proxied, "10.0.0.2:4000", "", "203.0.113.5", "203.0.113.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, tt.server.clientIP(req))
		})
	}
}

func TestIPLimiterEvictsIdleClients(t *testing.T) {
	now := testNow
	l := newIPLimiter(60, 1)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	for i := 0; i < 50; i++ {
		assert.True(t, l.allow(fmt.Sprintf("198.51.100.%d", i)))
	}
	assert.Equal(t, 50, l.size())
	assert.False(t, l.allow("198.51.100.0"))

	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.allow("203.0.113.1"))
	assert.Equal(t, 1, l.size())
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/appointments", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/appointments", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAppointmentActions(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for _, at := range []string{"09:00", "09:30", "10:00"} {
		rec := env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-09", at), false)
		require.Equal(t, http.StatusCreated, rec.Code)
		var a appointmentView
		decode(t, rec, &a)
		ids = append(ids, a.ID)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/admin/appointments/"+ids[0]+"/approve", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/admin/appointments/"+ids[0]+"/approve", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/admin/appointments/missing/approve", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/appointments/"+ids[1]+"/cancel", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/appointments/bulk",
		map[string]interface{}{"action": "approve", "ids": ids}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var bulk struct {
		Updated int                   `json:"updated"`
		Results []booking.BatchResult `json:"results"`
	}
	decode(t, rec, &bulk)
	assert.Equal(t, 1, bulk.Updated)
	assert.Equal(t, "invalid_transition", bulk.Results[0].Code)
	assert.Equal(t, "invalid_transition", bulk.Results[1].Code)
	assert.Equal(t, "approved", bulk.Results[2].Status)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/appointments?status=approved", nil, true)
	var list struct {
		Appointments []appointmentView `json:"appointments"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Appointments, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/appointments?status=bogus", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminWindowsAndSettings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/admin/windows", map[string]interface{}{
		"day_of_week": 2, "start_time": "13:00", "end_time": "15:00", "slot_duration": 60,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created booking.WindowView
	decode(t, rec, &created)
	assert.Equal(t, 2, created.SlotCount)
	assert.True(t, created.IsActive)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/windows", map[string]interface{}{
		"day_of_week": 2, "start_time": "13:00", "end_time": "15:00", "slot_duration": 60,
	}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/windows", map[string]interface{}{
		"day_of_week": 2, "start_time": "15:00", "end_time": "13:00",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/slots?date=2026-03-03", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/windows/bulk", map[string]interface{}{"active": false, "ids": []int64{created.ID}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/slots?date=2026-03-03", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/admin/settings", map[string]interface{}{"enabled": false, "instructions": "Closed for audit."}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/settings", nil, false)
	var settings model.BookingSettings
	decode(t, rec, &settings)
	assert.False(t, settings.IsEnabled)
	assert.Equal(t, "Closed for audit.", settings.Instructions)

	rec = env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-02", "09:00"), false)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "booking_disabled")
}

func TestAdminExport(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/appointments", submitBody("2026-03-02", "10:00"), false)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/export.xlsx", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "appointments_2026-03-02.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Appointments")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/readyz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.server.checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = env.do(t, http.MethodGet, "/readyz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis not ready")
}

func TestGRPCHealthRefresh(t *testing.T) {
	healthy := true
	g := NewGRPCHealth(map[string]ReadyCheck{
		"db": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("down")
		},
	}, time.Minute, zerolog.Nop())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, g.Refresh(context.Background()))
	healthy = false
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.Refresh(context.Background()))

	resp, err := g.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
