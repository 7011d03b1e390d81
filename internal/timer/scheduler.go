package timer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type Scheduler struct {
	store  Store
	clock  clock.Clock
	ttl    time.Duration
	logger observability.Logger
}

func NewScheduler(store Store, clk clock.Clock, ttl time.Duration, logger observability.Logger) *Scheduler {
	if ttl <= 0 {
		ttl = domain.HoldDuration
	}
	return &Scheduler{store: store, clock: clk, ttl: ttl, logger: logger}
}

// Schedule arms the hold timer of a booking. createdAt is the booking's
// creation time; the zero value means now. Scheduling the same booking again
// keeps the original due time.
func (s *Scheduler) Schedule(ctx context.Context, bookingID, showID string, createdAt time.Time) (Timer, error) {
	if bookingID == "" {
		return Timer{}, errors.Wrap(domain.ErrInvalidInput, "booking id is required")
	}
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}

	t := Timer{
		BookingID: bookingID,
		ShowID:    showID,
		DueAt:     createdAt.Add(s.ttl),
		Status:    StatusPending,
	}
	created, err := s.store.Schedule(ctx, t)
	if err != nil {
		return Timer{}, errors.Wrapf(err, "schedule hold timer for %s", bookingID)
	}

	log := s.logger.WithField("booking_id", bookingID).WithField("due_at", t.DueAt)
	if created {
		log.Info("hold timer armed")
	} else {
		log.Debug("hold timer already armed")
	}
	return t, nil
}
