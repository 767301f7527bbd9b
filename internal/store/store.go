// Package store holds the identity store that enforces the (topic, event_id)
// uniqueness of persisted events, and the cumulative stats aggregate.
package store

import (
	"context"
	"time"

	"aggregator/internal/event"
)

type InsertStatus int

const (
	Inserted InsertStatus = iota
	AlreadyExists
	Failed
)

func (s InsertStatus) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// InsertResult is the outcome of one isolated insert attempt. Err is set only
// when Status is Failed; a key conflict is not an error.
type InsertResult struct {
	Status     InsertStatus
	ReceivedAt time.Time
	Err        error
}

func inserted(at time.Time) InsertResult {
	return InsertResult{Status: Inserted, ReceivedAt: at}
}

func alreadyExists() InsertResult {
	return InsertResult{Status: AlreadyExists}
}

func failed(err error) InsertResult {
	return InsertResult{Status: Failed, Err: err}
}

// Stats is the singleton aggregate record.
type Stats struct {
	Received         int64     `json:"received"`
	UniqueProcessed  int64     `json:"unique_processed"`
	DuplicateDropped int64     `json:"duplicate_dropped"`
	LastUpdated      time.Time `json:"last_updated"`
}

// StatsDelta is applied to the aggregate in a single atomic update.
type StatsDelta struct {
	Received  int64
	Unique    int64
	Duplicate int64
}

func (d StatsDelta) IsZero() bool {
	return d.Received == 0 && d.Unique == 0 && d.Duplicate == 0
}

// Query selects persisted events. An empty Topic matches every topic.
type Query struct {
	Topic string
	Limit int
}

type EventStore interface {
	// Insert stores rec unless its key is already present. The existing
	// record is never modified.
	Insert(ctx context.Context, rec event.Record) InsertResult
	List(ctx context.Context, q Query) ([]event.Stored, error)
	Topics(ctx context.Context) ([]string, error)
	Count(ctx context.Context, topic string) (int64, error)
}

type StatsStore interface {
	IncrementStats(ctx context.Context, delta StatsDelta) error
	Stats(ctx context.Context) (Stats, error)
}

type Store interface {
	EventStore
	StatsStore
	Close(ctx context.Context) error
}

// BatchInserter is implemented by backends that can insert many records in
// one round trip. Results are positional and must match what a sequence of
// Insert calls in the same order would have produced.
type BatchInserter interface {
	InsertBatch(ctx context.Context, recs []event.Record) []InsertResult
}

// InsertAll inserts recs through s, using the bulk path when s provides one.
func InsertAll(ctx context.Context, s EventStore, recs []event.Record) []InsertResult {
	if bi, ok := s.(BatchInserter); ok {
		return bi.InsertBatch(ctx, recs)
	}
	results := make([]InsertResult, len(recs))
	for i, rec := range recs {
		results[i] = s.Insert(ctx, rec)
	}
	return results
}

// firstOccurrences maps every position to the position of the first record
// in recs sharing its key.
func firstOccurrences(recs []event.Record) []int {
	firsts := make([]int, len(recs))
	seen := make(map[event.Key]int, len(recs))
	for i, rec := range recs {
		if j, ok := seen[rec.Key()]; ok {
			firsts[i] = j
			continue
		}
		seen[rec.Key()] = i
		firsts[i] = i
	}
	return firsts
}

// resolveRepeats settles every in-batch repeat once the first occurrences
// have results. A repeat is a duplicate only if an earlier copy of its key
// was stored or found; while every earlier copy failed, the repeat is
// inserted itself, in batch order, exactly as sequential Insert calls would.
func resolveRepeats(ctx context.Context, recs []event.Record, firsts []int, results []InsertResult, insert func(context.Context, event.Record) InsertResult) {
	settled := make(map[int]bool, len(recs))
	for i := range recs {
		f := firsts[i]
		if f == i {
			settled[f] = results[i].Status != Failed
			continue
		}
		if settled[f] {
			results[i] = alreadyExists()
			continue
		}
		results[i] = insert(ctx, recs[i])
		settled[f] = results[i].Status != Failed
	}
}
