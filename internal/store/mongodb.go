package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"aggregator/internal/event"
	"aggregator/pkg/metrics"
	"aggregator/pkg/migrations"
)

const (
	dbMongo          = "mongodb"
	statsDocumentID  = "global"
	duplicateKeyCode = 11000
)

type mongoEvent struct {
	Topic      string    `bson:"topic"`
	EventID    string    `bson:"event_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Source     string    `bson:"source"`
	Payload    string    `bson:"payload"`
	ReceivedAt time.Time `bson:"received_at"`
}

type mongoStats struct {
	Received         int64     `bson:"received_count"`
	UniqueProcessed  int64     `bson:"unique_processed"`
	DuplicateDropped int64     `bson:"duplicate_dropped"`
	LastUpdated      time.Time `bson:"last_updated"`
}

// MongoStore keeps events in a collection whose unique compound index on
// (topic, event_id) is created by migrations.EnsureMongoCollections.
type MongoStore struct {
	events *mongo.Collection
	stats  *mongo.Collection
	now    func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		events: db.Collection(migrations.EventsCollection),
		stats:  db.Collection(migrations.StatisticsCollection),
		// BSON dates carry millisecond precision.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *MongoStore) newDocument(rec event.Record, at time.Time) mongoEvent {
	return mongoEvent{
		Topic:      rec.Topic,
		EventID:    rec.EventID,
		Timestamp:  rec.Timestamp,
		Source:     rec.Source,
		Payload:    payloadText(rec.Payload),
		ReceivedAt: at,
	}
}

func (s *MongoStore) Insert(ctx context.Context, rec event.Record) InsertResult {
	start := time.Now()
	at := s.now()

	_, err := s.events.InsertOne(ctx, s.newDocument(rec, at))
	switch {
	case err == nil:
		observeMongo("insert", start, nil)
		return inserted(at)
	case mongo.IsDuplicateKeyError(err):
		observeMongo("insert", start, nil)
		return alreadyExists()
	default:
		observeMongo("insert", start, err)
		return failed(fmt.Errorf("failed to insert event %s: %w", rec.Key(), err))
	}
}

// InsertBatch issues one unordered InsertMany. Repeats of a key inside the
// batch are resolved in memory first, since the server may reorder
// unordered writes and the earliest occurrence has to win.
func (s *MongoStore) InsertBatch(ctx context.Context, recs []event.Record) []InsertResult {
	results := make([]InsertResult, len(recs))
	if len(recs) == 0 {
		return results
	}

	at := s.now()
	firsts := firstOccurrences(recs)
	docs := make([]interface{}, 0, len(recs))
	positions := make([]int, 0, len(recs))

	for i, rec := range recs {
		if firsts[i] != i {
			continue
		}
		docs = append(docs, s.newDocument(rec, at))
		positions = append(positions, i)
		results[i] = inserted(at)
	}

	s.writeFirsts(ctx, recs, docs, positions, results)
	resolveRepeats(ctx, recs, firsts, results, s.Insert)
	return results
}

// writeFirsts stores the first occurrence of every key and records the
// per-document outcome at its batch position.
func (s *MongoStore) writeFirsts(ctx context.Context, recs []event.Record, docs []interface{}, positions []int, results []InsertResult) {
	start := time.Now()
	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		observeMongo("insert_batch", start, nil)
		return
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil {
		observeMongo("insert_batch", start, err)
		for _, pos := range positions {
			results[pos] = s.Insert(ctx, recs[pos])
		}
		return
	}

	observeMongo("insert_batch", start, nil)
	for _, we := range bulkErr.WriteErrors {
		if we.Index < 0 || we.Index >= len(positions) {
			continue
		}
		pos := positions[we.Index]
		if we.Code == duplicateKeyCode {
			results[pos] = alreadyExists()
			continue
		}
		results[pos] = failed(fmt.Errorf("failed to insert event %s: %s", recs[pos].Key(), we.Message))
	}
}

func (s *MongoStore) List(ctx context.Context, q Query) ([]event.Stored, error) {
	filter := bson.M{}
	if q.Topic != "" {
		filter["topic"] = q.Topic
	}

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	start := time.Now()
	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		observeMongo("list", start, err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoEvent
	if err := cursor.All(ctx, &docs); err != nil {
		observeMongo("list", start, err)
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	observeMongo("list", start, nil)

	out := make([]event.Stored, len(docs))
	for i, d := range docs {
		out[i] = event.Stored{
			Record: event.Record{
				Topic:     d.Topic,
				EventID:   d.EventID,
				Timestamp: d.Timestamp.UTC(),
				Source:    d.Source,
				Payload:   event.Payload(d.Payload),
			},
			ReceivedAt: d.ReceivedAt.UTC(),
		}
	}
	return out, nil
}

func (s *MongoStore) Topics(ctx context.Context) ([]string, error) {
	start := time.Now()
	values, err := s.events.Distinct(ctx, "topic", bson.D{})
	if err != nil {
		observeMongo("topics", start, err)
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	observeMongo("topics", start, nil)

	topics := make([]string, 0, len(values))
	for _, v := range values {
		if t, ok := v.(string); ok {
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return topics, nil
}

func (s *MongoStore) Count(ctx context.Context, topic string) (int64, error) {
	filter := bson.M{}
	if topic != "" {
		filter["topic"] = topic
	}

	start := time.Now()
	n, err := s.events.CountDocuments(ctx, filter)
	observeMongo("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (s *MongoStore) IncrementStats(ctx context.Context, delta StatsDelta) error {
	update := bson.M{
		"$inc": bson.M{
			"received_count":    delta.Received,
			"unique_processed":  delta.Unique,
			"duplicate_dropped": delta.Duplicate,
		},
		"$set": bson.M{"last_updated": s.now()},
	}

	start := time.Now()
	_, err := s.stats.UpdateByID(ctx, statsDocumentID, update, options.Update().SetUpsert(true))
	observeMongo("increment_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to update statistics: %w", err)
	}
	return nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	update := bson.M{
		"$setOnInsert": bson.M{
			"received_count":    int64(0),
			"unique_processed":  int64(0),
			"duplicate_dropped": int64(0),
			"last_updated":      s.now(),
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	start := time.Now()
	var doc mongoStats
	err := s.stats.FindOneAndUpdate(ctx, bson.M{"_id": statsDocumentID}, update, opts).Decode(&doc)
	observeMongo("stats", start, err)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read statistics: %w", err)
	}

	return Stats{
		Received:         doc.Received,
		UniqueProcessed:  doc.UniqueProcessed,
		DuplicateDropped: doc.DuplicateDropped,
		LastUpdated:      doc.LastUpdated.UTC(),
	}, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *MongoStore) Close(context.Context) error {
	return nil
}

func observeMongo(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(dbMongo, operation, status)
	metrics.ObserveDatabaseQueryDuration(dbMongo, operation, time.Since(start))
}
