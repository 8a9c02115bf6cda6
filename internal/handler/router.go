package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/auth"
	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/middleware"
	"github.com/simonkvalheim/hm9-backoffice/internal/profit"
)

// RouterConfig holds everything the HTTP surface needs
type RouterConfig struct {
	Auth     *auth.Service
	Accounts *account.Service
	Engine   *ledger.Engine
	Gate     *approval.Gate
	IPO      *ipo.Service
	Profit   *profit.Service

	// Health reports storage connectivity; nil means always healthy
	Health func(ctx context.Context) error
	// Metrics serves /metrics when set
	Metrics http.Handler

	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter wires every handler under /v1 behind bearer authentication
func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)
		r.Use(middleware.RequestLogger(logger))

		NewAccountHandler(cfg.Accounts, cfg.Engine, cfg.Gate, logger).RegisterRoutes(r)
		NewLedgerHandler(cfg.Gate, logger).RegisterRoutes(r)
		NewIPOHandler(cfg.IPO, cfg.Gate, logger).RegisterRoutes(r)
		NewApprovalHandler(cfg.Gate, logger).RegisterRoutes(r)
		NewInvestmentHandler(cfg.Profit, cfg.Gate.Policy(), logger).RegisterRoutes(r)
	})

	return r
}

// healthHandler returns a handler that checks storage connectivity
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "disconnected"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "connected"})
	}
}
