package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/movie-ticket-booking/internal/booking"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

type BookingService interface {
	Create(ctx context.Context, userID, showID string, seats []string) (domain.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID string) error
	AddShows(ctx context.Context, in booking.NewShows) ([]domain.Show, error)
}

type HoldReleaser interface {
	Release(ctx context.Context, bookingID string) (domain.HoldState, error)
}

type PendingTimers interface {
	ListPending(ctx context.Context, limit int) ([]timer.Timer, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, key, messageID string, body []byte) error
}

// WebhookVerifier checks the signature headers of an identity provider webhook.
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

type Handlers struct {
	bookings  BookingService
	holds     HoldReleaser
	timers    PendingTimers
	publisher EventPublisher
	webhook   WebhookVerifier
	holdTTL   time.Duration
	checks    map[string]Check
	logger    observability.Logger
}

type Deps struct {
	Bookings  BookingService
	Holds     HoldReleaser
	Timers    PendingTimers
	Publisher EventPublisher
	// Webhook must be set for the identity webhook to accept anything.
	Webhook WebhookVerifier
	HoldTTL time.Duration
	Checks  map[string]Check
}

func NewHandlers(d Deps, logger observability.Logger) *Handlers {
	if d.HoldTTL <= 0 {
		d.HoldTTL = domain.HoldDuration
	}
	return &Handlers{
		bookings:  d.Bookings,
		holds:     d.Holds,
		timers:    d.Timers,
		publisher: d.Publisher,
		webhook:   d.Webhook,
		holdTTL:   d.HoldTTL,
		checks:    d.Checks,
		logger:    logger,
	}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShowID string   `json:"show_id"`
		Seats  []string `json:"seats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.bookings.Create(r.Context(), Caller(r.Context()), req.ShowID, req.Seats)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"booking_id": b.ID,
		"seats":      b.BookedSeats,
		"amount":     b.Amount,
		"expires_at": b.CreatedAt.Add(h.holdTTL).Format(time.RFC3339),
	})
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID     string `json:"booking_id"`
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BookingID == "" {
		writeFailure(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	log := requestLogger(r.Context(), h.logger).WithField("booking_id", req.BookingID).WithField("transaction_id", req.TransactionID)
	if req.Status != "SUCCEEDED" {
		// The hold timer releases the seats of a booking that is never paid.
		log.WithField("status", req.Status).Info("payment not successful")
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "ignored"})
		return
	}

	err := h.bookings.ConfirmPayment(r.Context(), req.BookingID)
	if errors.Is(err, domain.ErrHoldExpired) || errors.Is(err, domain.ErrNotFound) {
		log.Warn("payment arrived after the hold was released")
		writeFailure(w, http.StatusConflict, "hold expired")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "confirmed"})
}

var identityRoutes = map[string]string{
	"user.created": domain.EventIdentityUserCreated,
	"user.updated": domain.EventIdentityUserUpdated,
	"user.deleted": domain.EventIdentityUserDeleted,
}

const maxWebhookBody = 1 << 20

// IdentityWebhook turns signed provider webhooks into identity.user.* events.
func (h *Handlers) IdentityWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeFailure(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if h.webhook == nil {
		writeFailure(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}
	if err := h.webhook.Verify(payload, r.Header); err != nil {
		h.logger.WithError(err).Warn("identity webhook rejected")
		writeFailure(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var req struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	key, ok := identityRoutes[req.Type]
	if !ok || len(req.Data) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "status": "ignored"})
		return
	}

	msgID := r.Header.Get("svix-id")
	if msgID == "" {
		msgID = uuid.New().String()
	}
	if err := h.publisher.PublishEvent(r.Context(), key, msgID, req.Data); err != nil {
		h.writeError(w, r, domain.Transient(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

func (h *Handlers) AddShows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MovieID    string      `json:"movie_id"`
		MovieTitle string      `json:"movie_title"`
		ShowTimes  []time.Time `json:"show_times"`
		Price      float64     `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	shows, err := h.bookings.AddShows(r.Context(), booking.NewShows{
		MovieID:    req.MovieID,
		MovieTitle: req.MovieTitle,
		Times:      req.ShowTimes,
		Price:      req.Price,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ids := make([]string, len(shows))
	for i, s := range shows {
		ids[i] = s.ID
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "shows": ids})
}

func (h *Handlers) ListHolds(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeFailure(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	pending, err := h.timers.ListPending(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type hold struct {
		BookingID string    `json:"booking_id"`
		ShowID    string    `json:"show_id"`
		DueAt     time.Time `json:"due_at"`
		Attempts  int       `json:"attempts"`
		LastError string    `json:"last_error,omitempty"`
	}
	holds := make([]hold, len(pending))
	for i, t := range pending {
		holds[i] = hold{BookingID: t.BookingID, ShowID: t.ShowID, DueAt: t.DueAt, Attempts: t.Attempts, LastError: t.LastError}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "holds": holds})
}

// ReleaseHold runs the hold check immediately. A paid booking is kept.
func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookingID")
	state, err := h.holds.Release(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": state.String()})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"success": false, "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context(), h.logger).WithError(err).Error("request failed")
		msg = http.StatusText(status)
	}
	writeFailure(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSeatTaken),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrHoldExpired),
		errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
