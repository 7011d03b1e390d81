package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository stores shows and the movies they screen.
type CatalogRepository struct {
	shows  *mongo.Collection
	movies *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		shows:  db.Collection("shows"),
		movies: db.Collection("movies"),
		logger: logger,
	}
}

type ShowDoc struct {
	ID            string            `bson:"_id"`
	MovieID       string            `bson:"movie"`
	StartsAt      time.Time         `bson:"starts_at"`
	Price         float64           `bson:"price"`
	OccupiedSeats map[string]string `bson:"occupied_seats"`
	Version       int64             `bson:"version"`
	CreatedAt     time.Time         `bson:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at"`
}

type MovieDoc struct {
	ID    string `bson:"_id"`
	Title string `bson:"title"`
}

func (d ShowDoc) toDomain() domain.Show {
	seats := d.OccupiedSeats
	if seats == nil {
		seats = map[string]string{}
	}
	return domain.Show{
		ID:            d.ID,
		MovieID:       d.MovieID,
		StartsAt:      d.StartsAt,
		Price:         d.Price,
		OccupiedSeats: seats,
		Version:       d.Version,
	}
}

func (c *CatalogRepository) CreateShow(ctx context.Context, show domain.Show) error {
	now := time.Now()
	seats := show.OccupiedSeats
	if seats == nil {
		seats = map[string]string{}
	}
	_, err := c.shows.InsertOne(ctx, ShowDoc{
		ID:            show.ID,
		MovieID:       show.MovieID,
		StartsAt:      show.StartsAt,
		Price:         show.Price,
		OccupiedSeats: seats,
		Version:       show.Version,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	if err != nil {
		c.logger.Error("failed to create show", err)
		return storeErr(err, "create show")
	}
	return nil
}

func (c *CatalogRepository) GetShow(ctx context.Context, id string) (domain.Show, error) {
	var doc ShowDoc
	err := c.shows.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return domain.Show{}, storeErr(err, "get show")
	}
	return doc.toDomain(), nil
}

// SaveShow writes the seat map if nobody else has saved the show since it was
// read, and bumps the version.
func (c *CatalogRepository) SaveShow(ctx context.Context, show domain.Show) error {
	seats := show.OccupiedSeats
	if seats == nil {
		seats = map[string]string{}
	}
	res, err := c.shows.UpdateOne(ctx,
		bson.M{"_id": show.ID, "version": show.Version},
		bson.M{
			"$set": bson.M{"occupied_seats": seats, "updated_at": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		c.logger.Error("failed to save show", err)
		return storeErr(err, "save show")
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return missingOr(ctx, c.shows, show.ID, domain.ErrVersionConflict)
}

func (c *CatalogRepository) PutMovie(ctx context.Context, movie domain.Movie) error {
	_, err := c.movies.ReplaceOne(ctx,
		bson.M{"_id": movie.ID},
		MovieDoc{ID: movie.ID, Title: movie.Title},
		options.Replace().SetUpsert(true),
	)
	return storeErr(err, "put movie")
}

func (c *CatalogRepository) GetMovie(ctx context.Context, id string) (domain.Movie, error) {
	var doc MovieDoc
	if err := c.movies.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Movie{}, storeErr(err, "get movie")
	}
	return domain.Movie{ID: doc.ID, Title: doc.Title}, nil
}

// missingOr tells a lost compare-and-swap apart from a missing document.
func missingOr(ctx context.Context, coll *mongo.Collection, id string, lost error) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr(err, "count documents")
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return lost
}

func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return domain.Transient(errors.Wrap(err, op))
}
