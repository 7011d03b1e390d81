package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/movie-ticket-booking/internal/idempotency"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type RouterConfig struct {
	Verifier   *Verifier
	Authorizer Authorizer
	// RateLimiter and Idempotency are optional.
	RateLimiter    RateLimiter
	RateLimit      int
	RateLimitEvery time.Duration
	Idempotency    *idempotency.Idempotency
}

func SetupRouter(h *Handlers, cfg RouterConfig, logger observability.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.Verifier))
		if cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitEvery, logger))
		}

		r.Post("/v1/payments/callback", h.PaymentCallback)
		r.Post("/v1/webhooks/identity", h.IdentityWebhook)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			if cfg.Idempotency != nil {
				r.Use(cfg.Idempotency.Middleware(func(req *http.Request) string { return Caller(req.Context()) }))
			}
			r.Post("/v1/bookings", h.CreateBooking)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(AdminGate(cfg.Authorizer, logger))
			r.Post("/shows", h.AddShows)
			r.Get("/holds", h.ListHolds)
			r.Post("/holds/{bookingID}/release", h.ReleaseHold)
		})
	})

	return r
}
