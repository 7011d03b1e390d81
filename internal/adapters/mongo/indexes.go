package mongo

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("bookings").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "show", Value: 1}}},
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, "create booking indexes")
	}
	_, err = db.Collection("audit_logs").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "action", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return errors.Wrap(err, "create audit indexes")
}
