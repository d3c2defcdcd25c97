// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"budget/internal/cache"
	"budget/internal/core"
	"budget/internal/identity"
	applog "budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
)

// Ledger is the part of ledger.Service the handlers drive.
type Ledger interface {
	CreateTransaction(ctx context.Context, userID int64, in core.TransactionInput) (core.Transaction, error)
	EditTransaction(ctx context.Context, userID, id int64, in core.TransactionInput) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id int64) error
	GetTransaction(ctx context.Context, userID, id int64) (core.Transaction, error)
	ListByAccount(ctx context.Context, userID, accountID int64, r core.DateRange) ([]core.Transaction, error)
	ListByUser(ctx context.Context, userID int64, r core.DateRange) ([]core.Transaction, error)
	ListAccounts(ctx context.Context, userID int64) ([]core.Account, error)
	ListCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error)
}

// Options configures a Server. Verifier is required.
type Options struct {
	Verifier *identity.Verifier
	Logger   *applog.Logger

	// Idempotency backs the Idempotency-Key header on create. When nil an
	// in-process store is used.
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration

	RateLimit      ratelimit.Config
	TrustedProxies []string
}

// Server wraps http.Server with the API routes and the background helpers
// that must be stopped on shutdown.
type Server struct {
	http.Server
	ledger       Ledger
	limiter      *ratelimit.Limiter
	detector     *security.Detector
	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

const writeTimeout = 30 * time.Second

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, l Ledger, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = IdempotencyCacheTTL
	}

	s := &Server{
		ledger:       l,
		limiter:      ratelimit.NewLimiter(opts.RateLimit),
		detector:     security.NewDetector(),
		cacheManager: cache.NewManager(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	idem := opts.Idempotency
	if idem == nil {
		local := NewMemoryIdempotencyStore(10000, opts.IdempotencyTTL)
		s.cacheManager.Register(local.responses)
		s.cacheManager.Register(local.locks)
		s.cacheManager.StartCleanup(10 * time.Minute)
		idem = local
	}

	r := chi.NewRouter()
	r.Use(trace.Middleware)
	r.Use(applog.Middleware(logger, trace.FromRequest))
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ClientIP, writeRateLimited))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(opts.Verifier.Middleware)

		r.Route("/transactions", func(r chi.Router) {
			r.With(Idempotency(idem, writeTimeout)).Post("/", s.handleCreateTransaction)
			r.Get("/", s.handleListTransactions)
			r.Get("/{id}", s.handleGetTransaction)
			r.Put("/{id}", s.handleEditTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{id}/transactions", s.handleListAccountTransactions)
		r.Get("/categories", s.handleListCategories)
		r.Post("/categories/by-type", s.handleCategoriesByType)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the background helpers and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.cacheManager.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		slog.InfoContext(ctx, "HTTP server stopped",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldOperation, applog.OpShutdown,
			"rate_limited", s.limiter.Rejected(),
			"suspicious", s.detector.SuspiciousCount())
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, retry later"})
}
