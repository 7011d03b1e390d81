package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// PublishPending locks up to limit unpublished records, hands each to publish
// and marks the successful ones published in the same transaction. A record
// whose publish fails stays NEW for the next round.
func (r *Repository) PublishPending(ctx context.Context, limit int, publish func(OutboxRecord) error) (int, error) {
	published := 0
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
			FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		records, err := scanOutbox(rows)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if err := publish(rec); err != nil {
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
			`, rec.ID, time.Now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}

func (r *Repository) OldestUnpublished(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `SELECT min(created_at) FROM outbox WHERE status = 'NEW'`).Scan(&ts)
	return ts, err
}

func scanOutbox(rows pgx.Rows) ([]OutboxRecord, error) {
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
