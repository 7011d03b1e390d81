package domain

import (
	"time"

	"github.com/google/uuid"
)

func NewBooking(show Show, userID string, seats []string, now time.Time) Booking {
	booked := make([]string, len(seats))
	copy(booked, seats)
	return Booking{
		ID:          uuid.New().String(),
		UserID:      userID,
		ShowID:      show.ID,
		BookedSeats: booked,
		Amount:      float64(len(seats)) * show.Price,
		Status:      BookingHolding,
		CreatedAt:   now,
	}
}
