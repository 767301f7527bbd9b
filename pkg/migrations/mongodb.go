package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	EventsCollection     = "events"
	StatisticsCollection = "statistics"
)

// EnsureMongoCollections creates the indexes the event store relies on. The
// unique compound index is what enforces the (topic, event_id) identity.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetName("uq_events_topic_event_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_events_received_at"),
		},
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_events_topic_received_at"),
		},
	}

	_, err := db.Collection(EventsCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
