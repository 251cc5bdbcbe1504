package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/calsync/internal/api"
	"github.com/jw6ventures/calsync/internal/auth"
	"github.com/jw6ventures/calsync/internal/config"
	"github.com/jw6ventures/calsync/internal/http/ratelimit"
	"github.com/jw6ventures/calsync/internal/metrics"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Router is the HTTP entry point. Close stops background limiter cleanup.
type Router struct {
	http.Handler
	limiter *ratelimit.IPRateLimiter
}

// Close releases router resources.
func (r *Router) Close() {
	r.limiter.Stop()
}

// NewRouter wires health, metrics, and the authenticated API.
func NewRouter(cfg *config.Config, health HealthChecker, apiHandler *api.Handler, verifier auth.TokenVerifier) *Router {
	r := chi.NewRouter()

	// API: 5 requests per second, burst of 20. Sync endpoints fan out to
	// providers so they share the tighter budget.
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 20, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(auth.RequireBearer(verifier))
		apiHandler.Routes(r)
	})

	return &Router{Handler: r, limiter: apiRateLimiter}
}
