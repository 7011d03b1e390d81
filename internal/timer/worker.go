package timer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Handler runs the hold check for one booking.
type Handler func(ctx context.Context, bookingID string) (domain.HoldState, error)

type WorkerConfig struct {
	PollInterval time.Duration
	LeaseTTL     time.Duration
	BatchSize    int
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c *WorkerConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
}

type Worker struct {
	store   Store
	handler Handler
	clock   clock.Clock
	logger  observability.Logger
	cfg     WorkerConfig
	owner   string
}

func NewWorker(store Store, handler Handler, clk clock.Clock, cfg WorkerConfig, logger observability.Logger) *Worker {
	cfg.setDefaults()
	owner := "worker-" + uuid.New().String()
	return &Worker{
		store:   store,
		handler: handler,
		clock:   clk,
		logger:  logger.WithField("lease_owner", owner),
		cfg:     cfg,
		owner:   owner,
	}
}

func (w *Worker) Owner() string { return w.owner }

// Run polls for due timers until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("hold timer worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("hold timer worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("failed to claim due hold timers")
			}
		}
	}
}

// Tick claims one batch of due timers and processes it. It returns the number
// of timers claimed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	now := w.clock.Now()
	timers, err := w.store.ClaimDue(ctx, w.owner, now, w.cfg.LeaseTTL, w.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "claim due timers")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, t := range timers {
		t := t
		g.Go(func() error {
			w.process(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return len(timers), nil
}

func (w *Worker) process(ctx context.Context, t Timer) {
	log := w.logger.WithField("booking_id", t.BookingID).WithField("attempt", t.Attempts)
	observability.TimerLag.Set(w.clock.Now().Sub(t.DueAt).Seconds())

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.LeaseTTL)
	state, err := w.handler(runCtx, t.BookingID)
	cancel()

	if err != nil {
		retryAt := w.clock.Now().Add(w.backoff(t.Attempts))
		log.WithError(err).WithField("retry_at", retryAt).Warn("hold check failed, will retry")
		observability.TimerRetries.Inc()
		if rerr := w.store.Retry(ctx, t.BookingID, w.owner, retryAt, err.Error()); rerr != nil {
			log.WithError(rerr).Error("failed to reschedule hold timer, lease will lapse")
		}
		return
	}

	now := w.clock.Now()
	completion := Completion{Outcome: state, CompletedAt: now}
	if state == domain.HoldReleased {
		ev, err := releasedEvent(t.BookingID, t.ShowID, now)
		if err != nil {
			// The seats are already free and a rerun would only see ALREADY_RESOLVED.
			log.WithError(err).Error("failed to encode booking.released, completing without it")
		}
		completion.Event = ev
	}

	err = w.store.Complete(ctx, t.BookingID, w.owner, completion)
	switch {
	case errors.Is(err, domain.ErrConflict):
		// The release already happened; the next owner will observe ALREADY_RESOLVED.
		log.Warn("lease lost before completing hold timer")
	case err != nil:
		log.WithError(err).Error("failed to complete hold timer, lease will lapse")
	default:
		log.WithField("outcome", state.String()).Info("hold timer resolved")
	}
}

func releasedEvent(bookingID, showID string, at time.Time) (*Event, error) {
	payload, err := json.Marshal(domain.BookingReleased{BookingID: bookingID, ShowID: showID, Released: at})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s for %s", domain.EventBookingReleased, bookingID)
	}
	return &Event{AggregateID: bookingID, Type: domain.EventBookingReleased, Payload: payload}, nil
}

func (w *Worker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := w.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}
