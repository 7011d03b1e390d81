package domain

import "time"

type BookingStatus string

const (
	BookingHolding   BookingStatus = "holding"
	BookingConfirmed BookingStatus = "confirmed"
	BookingReleasing BookingStatus = "releasing"
)

type Booking struct {
	ID          string
	UserID      string
	ShowID      string
	BookedSeats []string
	Amount      float64
	IsPaid      bool
	Status      BookingStatus
	CreatedAt   time.Time
	Version     int64
}

// Show.OccupiedSeats maps a seat label to the identity holding it. A missing
// label means the seat is available.
type Show struct {
	ID            string
	MovieID       string
	StartsAt      time.Time
	Price         float64
	OccupiedSeats map[string]string
	Version       int64
}

type Movie struct {
	ID    string
	Title string
}

type User struct {
	ID          string
	Email       string
	DisplayName string
	ImageURL    string
}
