package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware logs every request once it completes and counts it by
// route pattern.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), loggerKey, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithField("method", r.Method).
				WithField("route", route).
				WithField("status", status).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request served")
		})
	}
}

func requestLogger(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallback
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

// RateLimitMiddleware limits per caller, or per client address for anonymous
// requests. It fails open when the limiter is unavailable.
func RateLimitMiddleware(rl RateLimiter, rate int, period time.Duration, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "user:" + Caller(r.Context())
			if key == "user:" {
				ip, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					ip = r.RemoteAddr
				}
				key = "ip:" + ip
			}
			allowed, err := rl.Allow(r.Context(), key, rate, period)
			if err != nil {
				logger.WithError(err).Warn("rate limiter unavailable")
				allowed = true
			}
			if !allowed {
				observability.RateLimitExceeded.Inc()
				writeFailure(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := observability.Tracer().Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}
