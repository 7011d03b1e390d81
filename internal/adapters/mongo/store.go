package mongo

import (
	"context"

	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Store bundles the repositories of one database.
type Store struct {
	*BookingRepository
	*CatalogRepository
	*UserRepository
	db *mongo.Database
}

func NewStore(db *mongo.Database, logger observability.Logger) *Store {
	return &Store{
		BookingRepository: NewBookingRepository(db, logger),
		CatalogRepository: NewCatalogRepository(db, logger),
		UserRepository:    NewUserRepository(db, logger),
		db:                db,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
