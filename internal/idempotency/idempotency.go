// Package idempotency replays the stored response of a request that carries
// an Idempotency-Key the caller has already used.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

const Header = "Idempotency-Key"

type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

type Response struct {
	Status int    `json:"status"`
	Result []byte `json:"result"`
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	data, ok, err := i.store.Load(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.store.Save(ctx, key, data, i.ttl)
}

// Middleware stores every non-5xx response under the request's key, scoped by
// scope(r) so two callers cannot read each other's responses. Requests without
// the header pass through.
func (i *Idempotency) Middleware(scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = scope(r) + ":" + r.URL.Path + ":" + key

			cached, err := i.Get(r.Context(), key)
			if err != nil {
				i.logger.WithError(err).Warn("idempotency lookup failed")
			}
			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				w.Write(cached.Result)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				return
			}
			if err := i.Set(r.Context(), key, Response{Status: rec.status, Result: rec.body.Bytes()}); err != nil {
				i.logger.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
