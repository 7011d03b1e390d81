// Package outbox relays committed outbox rows to the broker.
package outbox

import (
	"context"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type Source interface {
	PublishPending(ctx context.Context, limit int, publish func(crdb.OutboxRecord) error) (int, error)
	OldestUnpublished(ctx context.Context) (*time.Time, error)
}

type Sink interface {
	PublishEvent(ctx context.Context, key, messageID string, body []byte) error
}

type Publisher struct {
	source   Source
	sink     Sink
	clock    clock.Clock
	interval time.Duration
	batch    int
	logger   observability.Logger
}

func NewPublisher(source Source, sink Sink, clk clock.Clock, interval time.Duration, logger observability.Logger) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{source: source, sink: sink, clock: clk, interval: interval, batch: 100, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil {
				p.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush publishes one batch. Rows whose publish fails stay pending and are
// retried on the next flush; the dedupe key doubles as the message id so
// consumers drop the duplicates a retry can cause.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	n, err := p.source.PublishPending(ctx, p.batch, func(rec crdb.OutboxRecord) error {
		if err := p.sink.PublishEvent(ctx, rec.EventType, rec.DedupeKey, rec.Payload); err != nil {
			p.logger.WithField("outbox_id", rec.ID).WithError(err).Warn("publish failed")
			return err
		}
		return nil
	})
	if err != nil {
		return n, err
	}

	oldest, err := p.source.OldestUnpublished(ctx)
	if err != nil {
		return n, err
	}
	if oldest == nil {
		observability.OutboxLag.Set(0)
	} else {
		observability.OutboxLag.Set(p.clock.Now().Sub(*oldest).Seconds())
	}
	if n > 0 {
		p.logger.WithField("count", n).Debug("outbox records published")
	}
	return n, nil
}
