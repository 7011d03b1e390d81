package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

type TimerStore struct {
	mu     sync.Mutex
	timers map[string]timer.Timer
	events []timer.Event
}

func NewTimerStore() *TimerStore {
	return &TimerStore{timers: make(map[string]timer.Timer)}
}

func (s *TimerStore) Schedule(ctx context.Context, t timer.Timer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[t.BookingID]; ok {
		return false, nil
	}
	t.Status = timer.StatusPending
	s.timers[t.BookingID] = t
	return true, nil
}

func (s *TimerStore) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]timer.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []timer.Timer
	for _, t := range s.timers {
		if t.Status != timer.StatusPending || t.DueAt.After(now) {
			continue
		}
		if t.LeaseUntil != nil && t.LeaseUntil.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	for i := range due {
		due[i].LeaseOwner = owner
		due[i].LeaseUntil = &until
		due[i].Attempts++
		s.timers[due[i].BookingID] = due[i]
	}
	return due, nil
}

func (s *TimerStore) Complete(ctx context.Context, bookingID, owner string, c timer.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[bookingID]
	if !ok || t.Status != timer.StatusPending || t.LeaseOwner != owner {
		return domain.ErrConflict
	}
	t.Status = timer.StatusDone
	t.Outcome = string(c.Outcome)
	t.LeaseOwner = ""
	t.LeaseUntil = nil
	completed := c.CompletedAt
	t.CompletedAt = &completed
	s.timers[bookingID] = t
	if c.Event != nil {
		s.events = append(s.events, *c.Event)
	}
	return nil
}

func (s *TimerStore) Retry(ctx context.Context, bookingID, owner string, retryAt time.Time, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[bookingID]
	if !ok || t.LeaseOwner != owner {
		return domain.ErrConflict
	}
	t.LeaseOwner = ""
	t.LeaseUntil = &retryAt
	t.LastError = cause
	s.timers[bookingID] = t
	return nil
}

func (s *TimerStore) ListPending(ctx context.Context, limit int) ([]timer.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []timer.Timer
	for _, t := range s.timers {
		if t.Status == timer.StatusPending {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TimerStore) Get(bookingID string) (timer.Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[bookingID]
	return t, ok
}

// Events returns the outbox events written with completions.
func (s *TimerStore) Events() []timer.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]timer.Event(nil), s.events...)
}
