package domain

import "time"

// Routing keys on the events exchange.
const (
	EventBookingCreated      = "booking.created"
	EventBookingReleased     = "booking.released"
	EventPaymentConfirmed    = "payment.confirmed"
	EventIdentityUserCreated = "identity.user.created"
	EventIdentityUserUpdated = "identity.user.updated"
	EventIdentityUserDeleted = "identity.user.deleted"
)

type BookingCreated struct {
	BookingID string    `json:"bookingId"`
	ShowID    string    `json:"showId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

type BookingReleased struct {
	BookingID string    `json:"bookingId"`
	ShowID    string    `json:"showId,omitempty"`
	Released  time.Time `json:"releasedAt"`
}

type PaymentConfirmed struct {
	BookingID string `json:"bookingId"`
}

// IdentityUser is the user object the identity provider sends with its
// user.created and user.updated webhooks.
type IdentityUser struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	EmailAddresses []IdentityEmail `json:"email_addresses"`
	ImageURL       string          `json:"image_url"`
}

type IdentityEmail struct {
	EmailAddress string `json:"email_address"`
}
