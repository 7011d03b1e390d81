// Package booking creates held bookings, confirms their payment and adds
// shows to the catalog.
package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

type Bookings interface {
	InsertBooking(ctx context.Context, b domain.Booking) error
}

type Catalog interface {
	GetShow(ctx context.Context, id string) (domain.Show, error)
	SaveShow(ctx context.Context, show domain.Show) error
	CreateShow(ctx context.Context, show domain.Show) error
	PutMovie(ctx context.Context, movie domain.Movie) error
}

type Holds interface {
	Release(ctx context.Context, bookingID string) (domain.HoldState, error)
	ConfirmPayment(ctx context.Context, bookingID string) error
}

type Scheduler interface {
	Schedule(ctx context.Context, bookingID, showID string, createdAt time.Time) (timer.Timer, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, key, messageID string, body []byte) error
}

type Auditor interface {
	RecordBooking(ctx context.Context, b domain.Booking) error
}

const seatRetries = 5

type Service struct {
	bookings  Bookings
	catalog   Catalog
	holds     Holds
	scheduler Scheduler
	publisher Publisher
	auditor   Auditor
	clock     clock.Clock
	logger    observability.Logger
}

type Deps struct {
	Bookings  Bookings
	Catalog   Catalog
	Holds     Holds
	Scheduler Scheduler
	Publisher Publisher
	// Auditor is optional.
	Auditor Auditor
	Clock   clock.Clock
}

func NewService(d Deps, logger observability.Logger) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		bookings:  d.Bookings,
		catalog:   d.Catalog,
		holds:     d.Holds,
		scheduler: d.Scheduler,
		publisher: d.Publisher,
		auditor:   d.Auditor,
		clock:     clk,
		logger:    logger,
	}
}

// Create holds seats for userID. The booking and its hold timer are stored
// before any seat is taken, so a crash at any point leaves a timer that cleans
// up. Seats are held under the booking id.
func (s *Service) Create(ctx context.Context, userID, showID string, seats []string) (domain.Booking, error) {
	if userID == "" || showID == "" || len(seats) == 0 {
		return domain.Booking{}, errors.Wrap(domain.ErrInvalidInput, "user, show and seats are required")
	}
	ctx, span := observability.Tracer().Start(ctx, "booking.Create")
	defer span.End()

	show, err := s.catalog.GetShow(ctx, showID)
	if err != nil {
		return domain.Booking{}, errors.Wrapf(err, "load show %s", showID)
	}

	b := domain.NewBooking(show, userID, seats, s.clock.Now())
	if err := s.bookings.InsertBooking(ctx, b); err != nil {
		return domain.Booking{}, errors.Wrap(err, "insert booking")
	}
	if _, err := s.scheduler.Schedule(ctx, b.ID, b.ShowID, b.CreatedAt); err != nil {
		return domain.Booking{}, errors.Wrap(err, "arm hold timer")
	}

	if err := s.occupy(ctx, b); err != nil {
		if _, rerr := s.holds.Release(ctx, b.ID); rerr != nil {
			s.logger.WithField("booking_id", b.ID).WithError(rerr).Warn("failed to discard booking, hold timer will")
		}
		return domain.Booking{}, err
	}

	s.publish(ctx, domain.EventBookingCreated, b.ID, domain.BookingCreated{
		BookingID: b.ID,
		ShowID:    b.ShowID,
		CreatedAt: b.CreatedAt,
	})
	if s.auditor != nil {
		if err := s.auditor.RecordBooking(ctx, b); err != nil {
			s.logger.WithError(err).Warn("failed to audit booking")
		}
	}
	s.logger.WithField("booking_id", b.ID).WithField("seats", b.BookedSeats).Info("booking held")
	return b, nil
}

func (s *Service) occupy(ctx context.Context, b domain.Booking) error {
	for attempt := 1; ; attempt++ {
		show, err := s.catalog.GetShow(ctx, b.ShowID)
		if err != nil {
			return errors.Wrap(err, "load show")
		}
		if err := show.OccupySeats(b.BookedSeats, b.ID); err != nil {
			return err
		}
		err = s.catalog.SaveShow(ctx, show)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return errors.Wrap(err, "save show")
		}
		if attempt >= seatRetries {
			return domain.Transient(errors.Wrapf(err, "save show after %d attempts", attempt))
		}
	}
}

// ConfirmPayment marks the booking paid and announces it. domain.ErrHoldExpired
// and domain.ErrNotFound mean the hold was already released.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID string) error {
	if err := s.holds.ConfirmPayment(ctx, bookingID); err != nil {
		return err
	}
	s.publish(ctx, domain.EventPaymentConfirmed, bookingID, domain.PaymentConfirmed{BookingID: bookingID})
	return nil
}

type NewShows struct {
	MovieID    string
	MovieTitle string
	Times      []time.Time
	Price      float64
}

// AddShows creates one show per start time.
func (s *Service) AddShows(ctx context.Context, in NewShows) ([]domain.Show, error) {
	if in.MovieID == "" || len(in.Times) == 0 || in.Price < 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "movie, times and a non-negative price are required")
	}
	if in.MovieTitle != "" {
		if err := s.catalog.PutMovie(ctx, domain.Movie{ID: in.MovieID, Title: in.MovieTitle}); err != nil {
			return nil, errors.Wrap(err, "save movie")
		}
	}

	shows := make([]domain.Show, 0, len(in.Times))
	for _, at := range in.Times {
		show := domain.Show{
			ID:            showID(in.MovieID, at),
			MovieID:       in.MovieID,
			StartsAt:      at.UTC(),
			Price:         in.Price,
			OccupiedSeats: map[string]string{},
		}
		if err := s.catalog.CreateShow(ctx, show); err != nil {
			return shows, errors.Wrapf(err, "create show at %s", at.Format(time.RFC3339))
		}
		shows = append(shows, show)
	}
	return shows, nil
}

// showID is derived from movie and start time so a repeated request conflicts
// instead of duplicating the show.
func showID(movieID string, at time.Time) string {
	return movieID + "-" + at.UTC().Format("20060102T1504")
}

// publish is best effort: the hold timer is already durable and consumers
// tolerate a missing booking.created.
func (s *Service) publish(ctx context.Context, key, aggregateID string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode event")
		return
	}
	if err := s.publisher.PublishEvent(ctx, key, key+":"+aggregateID, body); err != nil {
		s.logger.WithField("routing_key", key).WithError(err).Warn("failed to publish event")
	}
}
