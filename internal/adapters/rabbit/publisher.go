package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

// Exchange is the topic exchange every service event goes through.
const Exchange = "mtb.events"

const publishAttempts = 3

type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
		observability.RabbitPublishRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

// PublishEvent sends a persistent JSON message. messageID is what consumers
// de-duplicate on.
func (p *Publisher) PublishEvent(ctx context.Context, key, messageID string, body []byte) error {
	return p.Publish(ctx, key, amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
