// Package events routes broker deliveries to their handlers. Delivery is
// at-least-once: handlers must be idempotent, and message ids are
// de-duplicated on top of that so a redelivered message is normally skipped.
// An id is only recorded as handled once its handler has returned; until then
// it carries a lease that lapses if the worker dies.
package events

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"golang.org/x/sync/errgroup"
)

type Handler func(ctx context.Context, body []byte) error

// Dedupe tracks message ids. Begin takes an in-progress mark for lease and
// reports started=false when the id is already marked, with handled telling a
// finished message from one still in progress.
type Dedupe interface {
	Begin(ctx context.Context, messageID string, lease time.Duration) (started, handled bool, err error)
	Done(ctx context.Context, messageID string, ttl time.Duration) error
	Forget(ctx context.Context, messageID string) error
}

type Message struct {
	RoutingKey string
	MessageID  string
	Body       []byte
}

type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "reject"
	}
}

var errNoRetry = errors.New("do not retry")

// NoRetry marks a handler failure that is logged and acknowledged instead of
// being redelivered.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errNoRetry)
}

type Dispatcher struct {
	handlers     map[string]Handler
	dedupe       Dedupe
	lease        time.Duration
	dedupeTTL    time.Duration
	requeueDelay time.Duration
	logger       observability.Logger
}

// NewDispatcher de-duplicates through dedupe when it is non-nil. lease bounds
// how long a message stays in progress after its worker died; handled ids are
// remembered for dedupeTTL.
func NewDispatcher(dedupe Dedupe, lease, dedupeTTL time.Duration, logger observability.Logger) *Dispatcher {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Dispatcher{
		handlers:     make(map[string]Handler),
		dedupe:       dedupe,
		lease:        lease,
		dedupeTTL:    dedupeTTL,
		requeueDelay: time.Second,
		logger:       logger,
	}
}

func (d *Dispatcher) Handle(routingKey string, h Handler) {
	d.handlers[routingKey] = h
}

// Keys lists the routing keys with a handler, for queue bindings.
func (d *Dispatcher) Keys() []string {
	keys := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		keys = append(keys, k)
	}
	return keys
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	outcome, result := d.dispatch(ctx, msg)
	observability.EventsConsumed.WithLabelValues(msg.RoutingKey, result).Inc()
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) (Outcome, string) {
	log := d.logger.WithField("routing_key", msg.RoutingKey).WithField("message_id", msg.MessageID)

	h, ok := d.handlers[msg.RoutingKey]
	if !ok {
		log.Warn("no handler for routing key")
		return Reject, "unrouted"
	}

	started := false
	if msg.MessageID != "" && d.dedupe != nil {
		ok, handled, err := d.dedupe.Begin(ctx, msg.MessageID, d.lease)
		switch {
		case err != nil:
			log.WithError(err).Warn("dedupe unavailable, handling anyway")
		case handled:
			log.Debug("duplicate delivery skipped")
			return Ack, "duplicate"
		case !ok:
			log.Debug("message in progress elsewhere, requeueing")
			return Requeue, "in_progress"
		default:
			started = true
		}
	}

	outcome, result := d.classify(log, d.call(ctx, h, msg.Body))
	if started {
		if outcome == Requeue {
			if err := d.dedupe.Forget(ctx, msg.MessageID); err != nil {
				log.WithError(err).Warn("failed to forget message id")
			}
		} else if err := d.dedupe.Done(ctx, msg.MessageID, d.dedupeTTL); err != nil {
			log.WithError(err).Warn("failed to record handled message id")
		}
	}
	return outcome, result
}

// call runs h and turns a panic into a transient error so the delivery is
// retried.
func (d *Dispatcher) call(ctx context.Context, h Handler, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Transient(errors.Newf("event handler panicked: %v", r))
		}
	}()
	return h(ctx, body)
}

func (d *Dispatcher) classify(log observability.Logger, err error) (Outcome, string) {
	switch {
	case err == nil:
		return Ack, "ok"
	case errors.Is(err, domain.ErrInvalidInput):
		log.WithError(err).Error("rejecting malformed event")
		return Reject, "invalid"
	case errors.Is(err, errNoRetry):
		log.WithError(err).Error("event handler failed")
		return Ack, "failed"
	case domain.IsTransient(err):
		log.WithError(err).Warn("event handler failed, requeueing")
		return Requeue, "requeued"
	default:
		log.WithError(err).Error("event handler failed")
		return Ack, "failed"
	}
}

// Run consumes deliveries with the given number of workers until ctx is done
// or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case dl, ok := <-deliveries:
					if !ok {
						return errors.New("deliveries channel closed")
					}
					d.settle(ctx, dl)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) settle(ctx context.Context, dl amqp.Delivery) {
	outcome := d.Dispatch(ctx, Message{RoutingKey: dl.RoutingKey, MessageID: dl.MessageId, Body: dl.Body})

	var err error
	switch outcome {
	case Ack:
		err = dl.Ack(false)
	case Requeue:
		delay := time.NewTimer(d.requeueDelay)
		select {
		case <-ctx.Done():
		case <-delay.C:
		}
		delay.Stop()
		err = dl.Nack(false, true)
	case Reject:
		err = dl.Nack(false, false)
	}
	if err != nil {
		d.logger.WithError(err).Error("failed to settle delivery")
	}
}
