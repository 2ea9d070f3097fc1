package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/point-ledger/internal/api/handlers"
	"github.com/baharkarakas/point-ledger/internal/auth"
	"github.com/baharkarakas/point-ledger/internal/config"
	"github.com/baharkarakas/point-ledger/internal/metrics"
	"github.com/baharkarakas/point-ledger/internal/middleware"
)

type RouterDeps struct {
	Cfg    config.Config
	Log    *slog.Logger
	Points handlers.PointLedger
	Tokens *auth.TokenManager
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics(d.Log), middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", handlers.IdempotencyKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	ph := handlers.NewPointHandler(d.Points, d.Log)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- auth ----------
		if d.Tokens != nil {
			ah := handlers.NewAuthHandler(d.Tokens, d.Cfg.Env)
			r.Post("/auth/token", ah.Token)
			r.Post("/auth/refresh", ah.Refresh)
		}

		// ---------- points ----------
		r.Route("/points/{userID}", func(r chi.Router) {
			if d.Cfg.AuthEnabled && d.Tokens != nil {
				am := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.Env)
				r.Use(am.Auth, middleware.RequireOwner("userID"))
			}
			r.Get("/", ph.Get)
			r.Get("/histories", ph.Histories)
			r.Patch("/charge", ph.Charge)
			r.Patch("/use", ph.Use)
		})
	})

	return r
}
