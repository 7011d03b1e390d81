// Package timer is the durable deferred-action substrate behind booking holds.
// A timer row is written when a booking is created and survives restarts; a
// pool of workers claims due rows under a lease, runs the hold check and marks
// the row done. A worker that dies mid-run simply lets its lease lapse.
package timer

import (
	"context"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
)

const (
	StatusPending = "PENDING"
	StatusDone    = "DONE"
)

type Timer struct {
	BookingID   string
	ShowID      string
	DueAt       time.Time
	Status      string
	Attempts    int
	LeaseOwner  string
	LeaseUntil  *time.Time
	Outcome     string
	LastError   string
	CompletedAt *time.Time
}

// Event is written to the outbox together with a timer's completion.
type Event struct {
	AggregateID string
	Type        string
	Payload     []byte
}

type Completion struct {
	Outcome     domain.HoldState
	CompletedAt time.Time
	Event       *Event
}

type Store interface {
	// Schedule inserts t and reports false when a timer for the booking
	// already exists.
	Schedule(ctx context.Context, t Timer) (bool, error)
	// ClaimDue leases up to limit pending timers that are due at now and not
	// leased by a live worker.
	ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]Timer, error)
	// Complete marks a leased timer done. It returns domain.ErrConflict when
	// owner no longer holds the lease.
	Complete(ctx context.Context, bookingID, owner string, c Completion) error
	// Retry drops the lease and keeps the timer unclaimable until retryAt.
	Retry(ctx context.Context, bookingID, owner string, retryAt time.Time, cause string) error
	ListPending(ctx context.Context, limit int) ([]Timer, error)
}
