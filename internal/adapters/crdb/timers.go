package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

// TimerStore keeps hold timers in the hold_timers table.
type TimerStore struct {
	repo *Repository
}

func NewTimerStore(repo *Repository) *TimerStore {
	return &TimerStore{repo: repo}
}

func (s *TimerStore) Schedule(ctx context.Context, t timer.Timer) (bool, error) {
	result, err := s.repo.pool.Exec(ctx, `
		INSERT INTO hold_timers (booking_id, show_id, due_at, status)
		VALUES ($1, $2, $3, 'PENDING')
		ON CONFLICT (booking_id) DO NOTHING
	`, t.BookingID, t.ShowID, t.DueAt)
	if err != nil {
		return false, domain.Transient(err)
	}
	return result.RowsAffected() == 1, nil
}

func (s *TimerStore) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]timer.Timer, error) {
	var timers []timer.Timer
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE hold_timers
			SET lease_owner = $1, lease_until = $2, attempts = attempts + 1
			WHERE booking_id IN (
				SELECT booking_id FROM hold_timers
				WHERE status = 'PENDING' AND due_at <= $3
				  AND (lease_until IS NULL OR lease_until <= $3)
				ORDER BY due_at ASC
				LIMIT $4
				FOR UPDATE SKIP LOCKED
			)
			RETURNING booking_id, show_id, due_at, status, attempts, lease_owner, lease_until, COALESCE(last_error, '')
		`, owner, now.Add(lease), now, limit)
		if err != nil {
			return err
		}
		timers, err = scanTimers(rows)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim hold timers")
	}
	return timers, nil
}

func (s *TimerStore) Complete(ctx context.Context, bookingID, owner string, c timer.Completion) error {
	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE hold_timers
			SET status = 'DONE', outcome = $3, completed_at = $4, lease_owner = NULL, lease_until = NULL
			WHERE booking_id = $1 AND lease_owner = $2 AND status = 'PENDING'
		`, bookingID, owner, string(c.Outcome), c.CompletedAt)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrConflict
		}
		if c.Event == nil {
			return nil
		}
		return s.repo.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   c.Event.AggregateID,
			EventType:     c.Event.Type,
			Payload:       c.Event.Payload,
			DedupeKey:     c.Event.Type + ":" + c.Event.AggregateID,
		})
	})
}

func (s *TimerStore) Retry(ctx context.Context, bookingID, owner string, retryAt time.Time, cause string) error {
	result, err := s.repo.pool.Exec(ctx, `
		UPDATE hold_timers
		SET lease_owner = NULL, lease_until = $3, last_error = $4
		WHERE booking_id = $1 AND lease_owner = $2 AND status = 'PENDING'
	`, bookingID, owner, retryAt, cause)
	if err != nil {
		return domain.Transient(err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *TimerStore) ListPending(ctx context.Context, limit int) ([]timer.Timer, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT booking_id, show_id, due_at, status, attempts, COALESCE(lease_owner, ''), lease_until, COALESCE(last_error, '')
		FROM hold_timers WHERE status = 'PENDING' ORDER BY due_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, domain.Transient(err)
	}
	return scanTimers(rows)
}

func (s *TimerStore) Get(ctx context.Context, bookingID string) (timer.Timer, error) {
	var t timer.Timer
	var outcome *string
	err := s.repo.pool.QueryRow(ctx, `
		SELECT booking_id, show_id, due_at, status, attempts, COALESCE(lease_owner, ''), lease_until,
		       COALESCE(last_error, ''), outcome, completed_at
		FROM hold_timers WHERE booking_id = $1
	`, bookingID).Scan(&t.BookingID, &t.ShowID, &t.DueAt, &t.Status, &t.Attempts, &t.LeaseOwner, &t.LeaseUntil,
		&t.LastError, &outcome, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.Timer{}, domain.ErrNotFound
	}
	if err != nil {
		return timer.Timer{}, domain.Transient(err)
	}
	if outcome != nil {
		t.Outcome = *outcome
	}
	return t, nil
}

func scanTimers(rows pgx.Rows) ([]timer.Timer, error) {
	defer rows.Close()

	var timers []timer.Timer
	for rows.Next() {
		var t timer.Timer
		if err := rows.Scan(&t.BookingID, &t.ShowID, &t.DueAt, &t.Status, &t.Attempts, &t.LeaseOwner, &t.LeaseUntil, &t.LastError); err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
