package domain

import (
	"strings"
	"time"
)

// HoldDuration is the fixed reservation window of an unpaid booking.
const HoldDuration = 10 * time.Minute

// HoldState is the terminal state a hold check resolves a booking to.
type HoldState string

const (
	HoldHolding         HoldState = "HOLDING"
	HoldConfirmed       HoldState = "CONFIRMED"
	HoldReleased        HoldState = "RELEASED"
	HoldAlreadyResolved HoldState = "ALREADY_RESOLVED"
)

func (s HoldState) String() string { return string(s) }

// Resolved reports whether the booking can no longer be released.
func (b Booking) Resolved() bool {
	return b.IsPaid || b.Status == BookingConfirmed
}

// OwnsSeat reports whether holder names this booking. Seats are never
// matched by user, since one user may hold seats through several bookings.
func (b Booking) OwnsSeat(holder string) bool {
	return holder != "" && holder == b.ID
}

// ReleaseSeats removes the booking's seat labels from the show and returns the
// labels actually removed. Labels that are absent or held by someone else are
// left alone, so calling it again is a no-op.
func (s *Show) ReleaseSeats(b Booking) []string {
	var removed []string
	for _, seat := range b.BookedSeats {
		holder, ok := s.OccupiedSeats[seat]
		if !ok || !b.OwnsSeat(holder) {
			continue
		}
		delete(s.OccupiedSeats, seat)
		removed = append(removed, seat)
	}
	return removed
}

// OccupySeats marks every seat as held by holder. It fails without touching
// the show if any seat is already taken by a different holder.
func (s *Show) OccupySeats(seats []string, holder string) error {
	if len(seats) == 0 || holder == "" {
		return ErrInvalidInput
	}
	seen := make(map[string]bool, len(seats))
	for _, seat := range seats {
		// Labels become document keys, so "." and "$" are not allowed.
		if seat == "" || seen[seat] || strings.ContainsAny(seat, ".$") {
			return ErrInvalidInput
		}
		seen[seat] = true
		if cur, ok := s.OccupiedSeats[seat]; ok && cur != holder {
			return ErrSeatTaken
		}
	}
	if s.OccupiedSeats == nil {
		s.OccupiedSeats = make(map[string]string, len(seats))
	}
	for _, seat := range seats {
		s.OccupiedSeats[seat] = holder
	}
	return nil
}
