// Package hold enforces the seat hold of an unpaid booking. When the hold
// timer fires, Release either finds the booking paid and leaves it alone, or
// returns its seats to the show and deletes the booking. Payment and release
// race on the booking's status field; whichever compare-and-swap lands first
// decides the outcome.
package hold

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type BookingStore interface {
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	// ClaimForRelease moves an unpaid booking from holding (or a previously
	// interrupted releasing) to releasing. It returns domain.ErrNotFound when
	// the booking is gone and domain.ErrConflict when it is already paid.
	ClaimForRelease(ctx context.Context, id string) (domain.Booking, error)
	// MarkPaid moves a holding booking to confirmed. It returns
	// domain.ErrNotFound when the booking is gone and domain.ErrConflict when
	// it is no longer holding.
	MarkPaid(ctx context.Context, id string) error
	DeleteBooking(ctx context.Context, id string) error
}

type ShowStore interface {
	GetShow(ctx context.Context, id string) (domain.Show, error)
	// SaveShow persists show if its version is unchanged and returns
	// domain.ErrVersionConflict otherwise.
	SaveShow(ctx context.Context, show domain.Show) error
}

// Auditor records completed releases. Audit failures never fail a release.
type Auditor interface {
	RecordRelease(ctx context.Context, b domain.Booking, released []string) error
}

const defaultShowRetries = 5

type Manager struct {
	bookings    BookingStore
	shows       ShowStore
	auditor     Auditor
	logger      observability.Logger
	showRetries int
}

type Option func(*Manager)

// WithShowRetries bounds the read-modify-write attempts on a contended show.
func WithShowRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.showRetries = n
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) {
		m.auditor = a
	}
}

func NewManager(bookings BookingStore, shows ShowStore, logger observability.Logger, opts ...Option) *Manager {
	m := &Manager{
		bookings:    bookings,
		shows:       shows,
		logger:      logger,
		showRetries: defaultShowRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Release runs the check-then-release sequence for one booking. It is safe to
// call any number of times: once the booking is deleted every later call
// returns domain.HoldAlreadyResolved. A non-nil error means the sequence did
// not complete and must be retried from the start.
func (m *Manager) Release(ctx context.Context, bookingID string) (domain.HoldState, error) {
	ctx, span := observability.Tracer().Start(ctx, "hold.Release")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	start := time.Now()
	state, err := m.release(ctx, bookingID)
	observability.HoldCheckDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hold check failed")
		return state, err
	}
	span.SetAttributes(attribute.String("hold.state", state.String()))
	observability.HoldResolutions.WithLabelValues(state.String()).Inc()
	return state, nil
}

func (m *Manager) release(ctx context.Context, bookingID string) (domain.HoldState, error) {
	log := m.logger.WithField("booking_id", bookingID)

	booking, err := m.bookings.GetBooking(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("booking already resolved")
		return domain.HoldAlreadyResolved, nil
	}
	if err != nil {
		return domain.HoldHolding, errors.Wrap(err, "load booking")
	}
	if booking.Resolved() {
		return domain.HoldConfirmed, nil
	}

	booking, err = m.bookings.ClaimForRelease(ctx, bookingID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info("booking removed before release")
		return domain.HoldAlreadyResolved, nil
	case errors.Is(err, domain.ErrConflict):
		log.Info("payment confirmed before release")
		return domain.HoldConfirmed, nil
	case err != nil:
		return domain.HoldHolding, errors.Wrap(err, "claim booking")
	}

	released, err := m.releaseSeats(ctx, booking)
	if err != nil {
		return domain.HoldHolding, err
	}

	if err := m.bookings.DeleteBooking(ctx, bookingID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.HoldHolding, errors.Wrap(err, "delete booking")
	}

	log.WithField("seats", booking.BookedSeats).Info("released unpaid booking")
	if m.auditor != nil {
		if err := m.auditor.RecordRelease(ctx, booking, released); err != nil {
			log.WithError(err).Warn("failed to audit release")
		}
	}
	return domain.HoldReleased, nil
}

func (m *Manager) releaseSeats(ctx context.Context, booking domain.Booking) ([]string, error) {
	for attempt := 1; ; attempt++ {
		show, err := m.shows.GetShow(ctx, booking.ShowID)
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.WithField("show_id", booking.ShowID).Warn("show missing, no seats to release")
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "load show")
		}

		removed := show.ReleaseSeats(booking)
		if len(removed) == 0 {
			return nil, nil
		}

		err = m.shows.SaveShow(ctx, show)
		if err == nil {
			return removed, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, errors.Wrap(err, "save show")
		}
		if attempt >= m.showRetries {
			return nil, domain.Transient(errors.Wrapf(err, "save show after %d attempts", attempt))
		}
	}
}

// ConfirmPayment marks a held booking paid. Confirming twice is a no-op. A
// booking that the release path has claimed or deleted is never revived:
// the caller gets domain.ErrHoldExpired or domain.ErrNotFound.
func (m *Manager) ConfirmPayment(ctx context.Context, bookingID string) error {
	err := m.bookings.MarkPaid(ctx, bookingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}

	booking, err := m.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Resolved() {
		return nil
	}
	return domain.ErrHoldExpired
}
