package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID string, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) RecordBooking(ctx context.Context, b domain.Booking) error {
	data := map[string]interface{}{
		"booking_id": b.ID,
		"show_id":    b.ShowID,
		"seats":      b.BookedSeats,
		"amount":     b.Amount,
		"created_at": b.CreatedAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, "booking.created", b.UserID, data)
}

func (a *AuditLogger) RecordRelease(ctx context.Context, b domain.Booking, released []string) error {
	data := map[string]interface{}{
		"booking_id":     b.ID,
		"show_id":        b.ShowID,
		"booked_seats":   b.BookedSeats,
		"released_seats": released,
	}
	return a.LogEvent(ctx, "booking.released", b.UserID, data)
}
