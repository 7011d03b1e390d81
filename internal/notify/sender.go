// Package notify emails users about their bookings.
package notify

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type Store interface {
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	GetShow(ctx context.Context, id string) (domain.Show, error)
	GetMovie(ctx context.Context, id string) (domain.Movie, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; line-height: 1.5;">
  <h2>Hi {{.Name}},</h2>
  <p>Your booking for <strong style="color: #F84565;">{{.Title}}</strong> is confirmed.</p>
  <p>
    <strong>Date:</strong> {{.Date}}<br/>
    <strong>Time:</strong> {{.Time}}<br/>
    <strong>Seats:</strong> {{.Seats}}<br/>
    <strong>Amount:</strong> {{printf "%.2f" .Amount}}
  </p>
  <p>Booking reference: {{.BookingID}}</p>
  <p>Enjoy the show!</p>
</div>`))

type confirmation struct {
	Name      string
	Title     string
	Date      string
	Time      string
	Seats     string
	Amount    float64
	BookingID string
}

type Sender struct {
	store    Store
	mailer   Mailer
	location *time.Location
	logger   observability.Logger
}

func NewSender(store Store, mailer Mailer, location *time.Location, logger observability.Logger) *Sender {
	if location == nil {
		location = time.UTC
	}
	return &Sender{store: store, mailer: mailer, location: location, logger: logger}
}

// Subject is the confirmation email subject for a movie.
func Subject(title string) string {
	return "Payment confirmation " + title + " booked!"
}

func (s *Sender) SendBookingConfirmation(ctx context.Context, bookingID string) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return errors.Wrapf(err, "load booking %s", bookingID)
	}
	show, err := s.store.GetShow(ctx, booking.ShowID)
	if err != nil {
		return errors.Wrapf(err, "load show %s", booking.ShowID)
	}
	movie, err := s.store.GetMovie(ctx, show.MovieID)
	if err != nil {
		return errors.Wrapf(err, "load movie %s", show.MovieID)
	}
	user, err := s.store.GetUser(ctx, booking.UserID)
	if err != nil {
		return errors.Wrapf(err, "load user %s", booking.UserID)
	}

	startsAt := show.StartsAt.In(s.location)
	var body bytes.Buffer
	err = confirmationTmpl.Execute(&body, confirmation{
		Name:      user.DisplayName,
		Title:     movie.Title,
		Date:      startsAt.Format("Monday, January 2, 2006"),
		Time:      startsAt.Format("15:04"),
		Seats:     strings.Join(booking.BookedSeats, ", "),
		Amount:    booking.Amount,
		BookingID: booking.ID,
	})
	if err != nil {
		return errors.Wrap(err, "render confirmation")
	}

	if err := s.mailer.Send(ctx, Message{To: user.Email, Subject: Subject(movie.Title), HTML: body.String()}); err != nil {
		return err
	}
	s.logger.WithField("booking_id", bookingID).Info("booking confirmation sent")
	return nil
}
