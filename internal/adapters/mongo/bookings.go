package mongo

import (
	"context"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BookingRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewBookingRepository(db *mongo.Database, logger observability.Logger) *BookingRepository {
	return &BookingRepository{
		coll:   db.Collection("bookings"),
		logger: logger,
	}
}

type BookingDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user"`
	ShowID      string     `bson:"show"`
	BookedSeats []string   `bson:"booked_seats"`
	Amount      float64    `bson:"amount"`
	IsPaid      bool       `bson:"is_paid"`
	Status      string     `bson:"status"`
	CreatedAt   time.Time  `bson:"created_at"`
	PaidAt      *time.Time `bson:"paid_at,omitempty"`
	Version     int64      `bson:"version"`
}

func (d BookingDoc) toDomain() domain.Booking {
	return domain.Booking{
		ID:          d.ID,
		UserID:      d.UserID,
		ShowID:      d.ShowID,
		BookedSeats: d.BookedSeats,
		Amount:      d.Amount,
		IsPaid:      d.IsPaid,
		Status:      domain.BookingStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		Version:     d.Version,
	}
}

func (r *BookingRepository) InsertBooking(ctx context.Context, b domain.Booking) error {
	status := b.Status
	if status == "" {
		status = domain.BookingHolding
	}
	_, err := r.coll.InsertOne(ctx, BookingDoc{
		ID:          b.ID,
		UserID:      b.UserID,
		ShowID:      b.ShowID,
		BookedSeats: b.BookedSeats,
		Amount:      b.Amount,
		IsPaid:      b.IsPaid,
		Status:      string(status),
		CreatedAt:   b.CreatedAt,
		Version:     b.Version,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	if err != nil {
		r.logger.Error("failed to insert booking", err)
	}
	return storeErr(err, "insert booking")
}

func (r *BookingRepository) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	var doc BookingDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Booking{}, storeErr(err, "get booking")
	}
	return doc.toDomain(), nil
}

func (r *BookingRepository) ClaimForRelease(ctx context.Context, id string) (domain.Booking, error) {
	var doc BookingDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{
			"_id":     id,
			"is_paid": false,
			"status":  bson.M{"$in": []string{string(domain.BookingHolding), string(domain.BookingReleasing)}},
		},
		bson.M{
			"$set": bson.M{"status": string(domain.BookingReleasing)},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.Booking{}, missingOr(ctx, r.coll, id, domain.ErrConflict)
	}
	if err != nil {
		return domain.Booking{}, storeErr(err, "claim booking")
	}
	return doc.toDomain(), nil
}

func (r *BookingRepository) MarkPaid(ctx context.Context, id string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "is_paid": false, "status": string(domain.BookingHolding)},
		bson.M{
			"$set": bson.M{"is_paid": true, "status": string(domain.BookingConfirmed), "paid_at": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return storeErr(err, "mark booking paid")
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return missingOr(ctx, r.coll, id, domain.ErrConflict)
}

// DeleteBooking only removes bookings that a release has claimed.
func (r *BookingRepository) DeleteBooking(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "status": string(domain.BookingReleasing)})
	if err != nil {
		return storeErr(err, "delete booking")
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
