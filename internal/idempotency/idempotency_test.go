package idempotency_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/idempotency"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *mapStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func TestMiddleware_ReplaysResponse(t *testing.T) {
	store := &mapStore{data: map[string][]byte{}}
	idemp := idempotency.NewIdempotency(store, time.Hour, observability.NewDiscardLogger())

	calls := 0
	h := idemp.Middleware(func(r *http.Request) string { return r.Header.Get("X-User") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"booking_id":"B1"}`))
		}),
	)

	send := func(user, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
		req.Header.Set("X-User", user)
		if key != "" {
			req.Header.Set(idempotency.Header, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := send("U1", "k1")
	second := send("U1", "k1")
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header")
	}

	send("U2", "k1")
	send("U1", "")
	if calls != 3 {
		t.Errorf("expected other scopes and keyless requests to run, ran %d times", calls)
	}
}

func TestMiddleware_SkipsServerErrors(t *testing.T) {
	store := &mapStore{data: map[string][]byte{}}
	idemp := idempotency.NewIdempotency(store, time.Hour, observability.NewDiscardLogger())
	h := idemp.Middleware(func(*http.Request) string { return "U1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(idempotency.Header, "k1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(store.data) != 0 {
		t.Errorf("server errors must not be stored, got %v", store.data)
	}
}
