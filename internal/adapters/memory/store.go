// Package memory is an in-process implementation of the document stores. It
// follows the same compare-and-swap rules as the mongo adapter and is used by
// tests and local tooling.
package memory

import (
	"context"
	"sync"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	shows    map[string]domain.Show
	movies   map[string]domain.Movie
	users    map[string]domain.User
	faults   map[string][]error
}

func NewStore() *Store {
	return &Store{
		bookings: make(map[string]domain.Booking),
		shows:    make(map[string]domain.Show),
		movies:   make(map[string]domain.Movie),
		users:    make(map[string]domain.User),
		faults:   make(map[string][]error),
	}
}

// FailNext makes the next call to op return err. Calls queue up.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) fault(op string) error {
	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	s.faults[op] = queued[1:]
	return queued[0]
}

func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InsertBooking"); err != nil {
		return err
	}
	if _, ok := s.bookings[b.ID]; ok {
		return domain.ErrConflict
	}
	if b.Status == "" {
		b.Status = domain.BookingHolding
	}
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetBooking"); err != nil {
		return domain.Booking{}, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *Store) ClaimForRelease(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ClaimForRelease"); err != nil {
		return domain.Booking{}, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if b.IsPaid || b.Status == domain.BookingConfirmed {
		return domain.Booking{}, domain.ErrConflict
	}
	b.Status = domain.BookingReleasing
	b.Version++
	s.bookings[id] = b
	return cloneBooking(b), nil
}

func (s *Store) MarkPaid(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("MarkPaid"); err != nil {
		return err
	}
	b, ok := s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.IsPaid || b.Status != domain.BookingHolding {
		return domain.ErrConflict
	}
	b.IsPaid = true
	b.Status = domain.BookingConfirmed
	b.Version++
	s.bookings[id] = b
	return nil
}

func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DeleteBooking"); err != nil {
		return err
	}
	// Only bookings claimed by a release may go.
	if b, ok := s.bookings[id]; !ok || b.Status != domain.BookingReleasing {
		return domain.ErrNotFound
	}
	delete(s.bookings, id)
	return nil
}

func (s *Store) CreateShow(ctx context.Context, show domain.Show) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shows[show.ID]; ok {
		return domain.ErrConflict
	}
	s.shows[show.ID] = cloneShow(show)
	return nil
}

func (s *Store) GetShow(ctx context.Context, id string) (domain.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetShow"); err != nil {
		return domain.Show{}, err
	}
	show, ok := s.shows[id]
	if !ok {
		return domain.Show{}, domain.ErrNotFound
	}
	return cloneShow(show), nil
}

func (s *Store) SaveShow(ctx context.Context, show domain.Show) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SaveShow"); err != nil {
		return err
	}
	cur, ok := s.shows[show.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != show.Version {
		return domain.ErrVersionConflict
	}
	show.Version++
	s.shows[show.ID] = cloneShow(show)
	return nil
}

func (s *Store) PutMovie(ctx context.Context, movie domain.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[movie.ID] = movie
	return nil
}

func (s *Store) GetMovie(ctx context.Context, id string) (domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[id]
	if !ok {
		return domain.Movie{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertUser"); err != nil {
		return err
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.BookedSeats = append([]string(nil), b.BookedSeats...)
	return b
}

func cloneShow(s domain.Show) domain.Show {
	seats := make(map[string]string, len(s.OccupiedSeats))
	for k, v := range s.OccupiedSeats {
		seats[k] = v
	}
	s.OccupiedSeats = seats
	return s
}
