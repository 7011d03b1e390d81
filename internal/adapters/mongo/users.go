package mongo

import (
	"context"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewUserRepository(db *mongo.Database, logger observability.Logger) *UserRepository {
	return &UserRepository{
		coll:   db.Collection("users"),
		logger: logger,
	}
}

type UserDoc struct {
	ID    string `bson:"_id"`
	Email string `bson:"email"`
	Name  string `bson:"name"`
	Image string `bson:"image"`
}

func (r *UserRepository) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": u.ID},
		UserDoc{ID: u.ID, Email: u.Email, Name: u.DisplayName, Image: u.ImageURL},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		r.logger.Error("failed to upsert user", err)
	}
	return storeErr(err, "upsert user")
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (domain.User, error) {
	var doc UserDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.User{}, storeErr(err, "get user")
	}
	return domain.User{ID: doc.ID, Email: doc.Email, DisplayName: doc.Name, ImageURL: doc.Image}, nil
}

func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr(err, "delete user")
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
