package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

type Scheduler interface {
	Schedule(ctx context.Context, bookingID, showID string, createdAt time.Time) (timer.Timer, error)
}

type Notifier interface {
	SendBookingConfirmation(ctx context.Context, bookingID string) error
}

type UserSync interface {
	Create(ctx context.Context, u domain.IdentityUser) error
	Update(ctx context.Context, u domain.IdentityUser) error
	Delete(ctx context.Context, userID string) error
}

// JSON adapts a typed handler. A body that does not decode is invalid input.
func JSON[T any](fn func(context.Context, T) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return errors.Mark(errors.Wrap(err, "decode event"), domain.ErrInvalidInput)
		}
		return fn(ctx, v)
	}
}

// Register wires the service's consumers into d.
func Register(d *Dispatcher, sched Scheduler, notifier Notifier, users UserSync) {
	d.Handle(domain.EventBookingCreated, JSON(func(ctx context.Context, ev domain.BookingCreated) error {
		_, err := sched.Schedule(ctx, ev.BookingID, ev.ShowID, ev.CreatedAt)
		return err
	}))

	d.Handle(domain.EventPaymentConfirmed, JSON(func(ctx context.Context, ev domain.PaymentConfirmed) error {
		if ev.BookingID == "" {
			return errors.Wrap(domain.ErrInvalidInput, "booking id is required")
		}
		return NoRetry(notifier.SendBookingConfirmation(ctx, ev.BookingID))
	}))

	d.Handle(domain.EventIdentityUserCreated, JSON(users.Create))
	d.Handle(domain.EventIdentityUserUpdated, JSON(users.Update))
	d.Handle(domain.EventIdentityUserDeleted, JSON(func(ctx context.Context, u domain.IdentityUser) error {
		return users.Delete(ctx, u.ID)
	}))
}
