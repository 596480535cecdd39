// Package http serves the ledger JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cardledger/internal/balance"
	"cardledger/internal/cache"
	"cardledger/internal/core"
	"cardledger/internal/log"
	"cardledger/internal/middleware/ratelimit"
	"cardledger/internal/middleware/security"
	"cardledger/internal/middleware/trace"
	"cardledger/internal/services"
)

// LedgerAPI is what the handlers need from the ledger service.
// *services.LedgerService implements it.
type LedgerAPI interface {
	Dashboard(ctx context.Context, userID string, asOf core.Date) (balance.Dashboard, error)
	UpcomingDue(ctx context.Context, userID string, asOf core.Date) ([]balance.DueItem, error)
	Overdue(ctx context.Context, userID string, asOf core.Date) ([]balance.DueItem, error)

	ListCards(ctx context.Context, userID string) ([]core.Card, error)
	SaveCard(ctx context.Context, userID string, in services.CardInput) (core.Card, error)
	DeleteCard(ctx context.Context, userID, id string) error

	RecordStatement(ctx context.Context, userID string, in services.StatementInput) (core.Statement, error)
	DeleteStatement(ctx context.Context, userID, id string) error

	RecordPayment(ctx context.Context, userID string, in services.PaymentInput) (core.Payment, error)
	RelinkPayment(ctx context.Context, userID, paymentID, statementID string) (core.Payment, error)
	DeletePayment(ctx context.Context, userID, id string) error

	Ready(ctx context.Context, userID string) error
	CacheStats() cache.Stats
}

// UserHeader selects the ledger owner when the API runs behind a proxy that
// authenticates users. Without it the configured default user is used.
const UserHeader = "X-User-ID"

type ServerConfig struct {
	Addr              string
	UserID            string
	RequestsPerMinute int
	Logger            *log.Logger
}

type Server struct {
	http.Server
	ledger      LedgerAPI
	userID      string
	logger      *log.Logger
	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	metrics     *appMetrics
	now         func() time.Time

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime   time.Time
	requests int64
	writes   int64
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(cfg ServerConfig, ledger LedgerAPI) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	userID := cfg.UserID
	if userID == "" {
		userID = "default"
	}

	s := &Server{
		ledger: ledger,
		userID: userID,
		logger: logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
		}),
		detector: security.NewDetector(),
		metrics:  &appMetrics{uptime: time.Now()},
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)
	mux.HandleFunc("GET /api/overdue", s.handleOverdue)

	mux.HandleFunc("GET /api/cards", s.handleListCards)
	mux.Handle("POST /api/cards", s.limited(s.handleSaveCard))
	mux.Handle("PUT /api/cards/{id}", s.limited(s.handleSaveCard))
	mux.Handle("DELETE /api/cards/{id}", s.limited(s.handleDeleteCard))

	mux.Handle("POST /api/statements", s.limited(s.handleRecordStatement))
	mux.Handle("DELETE /api/statements/{id}", s.limited(s.handleDeleteStatement))

	mux.Handle("POST /api/payments", s.limited(s.handleRecordPayment))
	mux.Handle("PUT /api/payments/{id}/statement", s.limited(s.handleRelinkPayment))
	mux.Handle("DELETE /api/payments/{id}", s.limited(s.handleDeletePayment))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var h http.Handler = mux
	h = s.inspect(h)
	h = headers.Middleware(h)
	h = log.RequestMiddleware(logger, trace.FromRequest, s.detector.ExtractClientIP)(h)
	h = trace.Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// limited applies per-client rate limiting. Only writes go through it.
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	onLimit := func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
	}
	return s.rateLimiter.Middleware(s.detector.ExtractClientIP, onLimit)(next)
}

// inspect counts requests and logs ones that look like probes.
func (s *Server) inspect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.countRequest(r.Method)
		if s.detector.DetectSuspiciousRequest(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request",
				log.FieldRequestID, trace.FromRequest(r),
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

// user returns the ledger owner for r.
func (s *Server) user(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return s.userID
}

// Shutdown stops the rate limiter and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
