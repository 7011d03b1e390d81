package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures come
// back as domain.ErrSerializationFailure; every driver error is marked
// transient.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Transient(errors.Wrap(err, "begin tx"))
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return domain.Transient(err)
	}

	if err = fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.Transient(domain.ErrSerializationFailure)
	}
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return domain.Transient(err)
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
