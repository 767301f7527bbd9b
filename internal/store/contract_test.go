package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggregator/internal/event"
)

func newRecord(topic, id string) event.Record {
	return event.Record{
		Topic:     topic,
		EventID:   id,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:    "test",
		Payload:   event.Payload(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

// runStoreContract exercises behaviour every backend must share. s must be
// empty when called.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("first writer wins", func(t *testing.T) {
		first := newRecord("contract", "same")
		second := first
		second.Payload = event.Payload(`{"id":"overwritten"}`)

		res := s.Insert(ctx, first)
		require.Equal(t, Inserted, res.Status)
		assert.False(t, res.ReceivedAt.IsZero())

		res = s.Insert(ctx, second)
		assert.Equal(t, AlreadyExists, res.Status)
		assert.NoError(t, res.Err)

		stored, err := s.List(ctx, Query{Topic: "contract"})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.JSONEq(t, `{"id":"same"}`, string(stored[0].Payload))
	})

	t.Run("same event id on other topic is distinct", func(t *testing.T) {
		res := s.Insert(ctx, newRecord("contract-other", "same"))
		assert.Equal(t, Inserted, res.Status)
	})

	t.Run("batch resolves repeats in order", func(t *testing.T) {
		recs := []event.Record{
			newRecord("batch", "a"),
			newRecord("batch", "b"),
			newRecord("batch", "a"),
			newRecord("batch", "c"),
		}
		results := InsertAll(ctx, s, recs)
		require.Len(t, results, 4)
		assert.Equal(t, Inserted, results[0].Status)
		assert.Equal(t, Inserted, results[1].Status)
		assert.Equal(t, AlreadyExists, results[2].Status)
		assert.Equal(t, Inserted, results[3].Status)

		results = InsertAll(ctx, s, recs[:2])
		assert.Equal(t, AlreadyExists, results[0].Status)
		assert.Equal(t, AlreadyExists, results[1].Status)

		n, err := s.Count(ctx, "batch")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("list orders most recent first and honours limit", func(t *testing.T) {
		for _, id := range []string{"1", "2", "3"} {
			require.Equal(t, Inserted, s.Insert(ctx, newRecord("ordered", id)).Status)
			time.Sleep(5 * time.Millisecond)
		}

		stored, err := s.List(ctx, Query{Topic: "ordered", Limit: 2})
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "3", stored[0].EventID)
		assert.Equal(t, "2", stored[1].EventID)
		for _, st := range stored {
			assert.Equal(t, "ordered", st.Topic)
		}
	})

	t.Run("topics are distinct", func(t *testing.T) {
		topics, err := s.Topics(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"contract", "contract-other", "batch", "ordered"}, topics)
	})

	t.Run("stats start at zero and accumulate", func(t *testing.T) {
		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.Received)

		require.NoError(t, s.IncrementStats(ctx, StatsDelta{Received: 3, Unique: 1, Duplicate: 2}))
		require.NoError(t, s.IncrementStats(ctx, StatsDelta{Received: 2, Unique: 2}))

		st, err = s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), st.Received)
		assert.Equal(t, int64(3), st.UniqueProcessed)
		assert.Equal(t, int64(2), st.DuplicateDropped)
		assert.Equal(t, st.Received, st.UniqueProcessed+st.DuplicateDropped)
		assert.False(t, st.LastUpdated.IsZero())
	})
}
