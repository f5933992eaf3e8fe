// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"appointdesk/internal/booking"
	"appointdesk/shared/access"
	"appointdesk/shared/audit"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Options configures an HTTPServer.
type Options struct {
	Booking         *booking.Service
	Access          *access.Service
	Audit           *audit.Service
	Logger          zerolog.Logger
	SubmitPerMinute int
	SubmitBurst     int
	CORSOrigins     []string
	ReadyChecks     map[string]ReadyCheck

	// TrustedProxies are the reverse proxies allowed to set X-Forwarded-For.
	TrustedProxies []*net.IPNet
}

// HTTPServer serves the public booking API and the admin API.
type HTTPServer struct {
	booking *booking.Service
	access  *access.Service
	audit   *audit.Service
	limiter *ipLimiter
	proxies []*net.IPNet
	checks  map[string]ReadyCheck
	origins []string
	logger  zerolog.Logger
	router  *mux.Router
}

// NewHTTPServer wires routes and middleware.
func NewHTTPServer(opts Options) *HTTPServer {
	perMinute := opts.SubmitPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := opts.SubmitBurst
	if burst <= 0 {
		burst = 3
	}

	s := &HTTPServer{
		booking: opts.Booking,
		access:  opts.Access,
		audit:   opts.Audit,
		limiter: newIPLimiter(perMinute, burst),
		proxies: opts.TrustedProxies,
		checks:  opts.ReadyChecks,
		origins: opts.CORSOrigins,
		logger:  opts.Logger.With().Str("component", "http").Logger(),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	r := s.router
	r.Use(s.requestID, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	v1.HandleFunc("/dates", s.handleListDates).Methods(http.MethodGet)
	v1.HandleFunc("/slots", s.handleListSlots).Methods(http.MethodGet)
	v1.Handle("/appointments", s.rateLimit(http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	v1.HandleFunc("/appointments/{id}", s.handleOwnerGet).Methods(http.MethodGet)
	v1.HandleFunc("/appointments/{id}/cancel", s.handleOwnerCancel).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/appointments", s.handleAdminList).Methods(http.MethodGet)
	admin.HandleFunc("/appointments/bulk", s.handleAdminBulk).Methods(http.MethodPost)
	admin.HandleFunc("/appointments/{id}/approve", s.handleAdminApprove).Methods(http.MethodPost)
	admin.HandleFunc("/appointments/{id}/cancel", s.handleAdminCancel).Methods(http.MethodPost)
	admin.HandleFunc("/windows", s.handleListWindows).Methods(http.MethodGet)
	admin.HandleFunc("/windows", s.handleCreateWindow).Methods(http.MethodPost)
	admin.HandleFunc("/windows/bulk", s.handleBulkWindows).Methods(http.MethodPost)
	admin.HandleFunc("/windows/{id:[0-9]+}", s.handleUpdateWindow).Methods(http.MethodPut)
	admin.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	admin.HandleFunc("/export.xlsx", s.handleExport).Methods(http.MethodGet)
}

// Handler returns the router wrapped in recovery and CORS handling.
func (s *HTTPServer) Handler() http.Handler {
	var h http.Handler = s.router
	if len(s.origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type", requestIDHeader}),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// Run serves on addr until ctx is cancelled.
func (s *HTTPServer) Run(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("handler panic recovered")
}
