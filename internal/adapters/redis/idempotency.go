package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
)

// Idempotency keeps two kinds of keys: stored HTTP responses under idemp:
// and consumed message ids under dedupe:.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.Transient(errors.Wrap(err, "load idempotent response"))
	}
	return val, true, nil
}

func (i *Idempotency) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
	return errors.Wrap(err, "save idempotent response")
}

const (
	markInProgress = "processing"
	markHandled    = "done"
)

// Begin marks a message id as in progress for lease. When the id already
// carries a mark it reports started=false, and handled=true unless that mark is
// an in-progress one.
func (i *Idempotency) Begin(ctx context.Context, messageID string, lease time.Duration) (started, handled bool, err error) {
	key := "dedupe:" + messageID
	ok, err := i.client.SetNX(ctx, key, markInProgress, lease).Result()
	if err != nil {
		return false, false, domain.Transient(errors.Wrap(err, "mark message in progress"))
	}
	if ok {
		return true, false, nil
	}
	mark, err := i.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// The mark expired in between; let the redelivery take it.
		return false, false, nil
	}
	if err != nil {
		return false, false, domain.Transient(errors.Wrap(err, "read message mark"))
	}
	return false, mark != markInProgress, nil
}

// Done records a message id as handled for ttl.
func (i *Idempotency) Done(ctx context.Context, messageID string, ttl time.Duration) error {
	return errors.Wrap(i.client.Set(ctx, "dedupe:"+messageID, markHandled, ttl).Err(), "mark message handled")
}

// Forget drops a mark so a redelivered message is processed again.
func (i *Idempotency) Forget(ctx context.Context, messageID string) error {
	return errors.Wrap(i.client.Del(ctx, "dedupe:"+messageID).Err(), "forget message id")
}
