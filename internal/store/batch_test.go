package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aggregator/internal/event"
)

func TestFirstOccurrences(t *testing.T) {
	recs := []event.Record{
		newRecord("a", "1"),
		newRecord("a", "2"),
		newRecord("a", "1"),
		newRecord("b", "1"),
		newRecord("a", "2"),
	}
	assert.Equal(t, []int{0, 1, 0, 3, 1}, firstOccurrences(recs))
}

func TestResolveRepeats(t *testing.T) {
	at := time.Now()
	tooLarge := errors.New("document too large")

	tests := []struct {
		name     string
		recs     []event.Record
		firsts   []InsertResult
		insert   []InsertResult
		want     []InsertStatus
		attempts int
	}{
		{
			name:   "stored first copy makes repeats duplicates",
			recs:   []event.Record{newRecord("t", "k"), newRecord("t", "k"), newRecord("t", "k")},
			firsts: []InsertResult{inserted(at)},
			want:   []InsertStatus{Inserted, AlreadyExists, AlreadyExists},
		},
		{
			name:   "existing first copy makes repeats duplicates",
			recs:   []event.Record{newRecord("t", "k"), newRecord("t", "k")},
			firsts: []InsertResult{alreadyExists()},
			want:   []InsertStatus{AlreadyExists, AlreadyExists},
		},
		{
			name:     "failed first copy lets the repeat insert",
			recs:     []event.Record{newRecord("t", "k"), newRecord("t", "k"), newRecord("t", "k")},
			firsts:   []InsertResult{failed(tooLarge)},
			insert:   []InsertResult{inserted(at)},
			want:     []InsertStatus{Failed, Inserted, AlreadyExists},
			attempts: 1,
		},
		{
			name:     "repeats keep trying while every copy fails",
			recs:     []event.Record{newRecord("t", "k"), newRecord("t", "k"), newRecord("t", "k")},
			firsts:   []InsertResult{failed(tooLarge)},
			insert:   []InsertResult{failed(tooLarge), inserted(at)},
			want:     []InsertStatus{Failed, Failed, Inserted},
			attempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]InsertResult, len(tt.recs))
			firsts := firstOccurrences(tt.recs)
			n := 0
			for i := range tt.recs {
				if firsts[i] == i {
					results[i] = tt.firsts[n]
					n++
				}
			}

			attempts := 0
			resolveRepeats(context.Background(), tt.recs, firsts, results, func(context.Context, event.Record) InsertResult {
				res := tt.insert[attempts]
				attempts++
				return res
			})

			got := make([]InsertStatus, len(results))
			for i, r := range results {
				got[i] = r.Status
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestResolveRepeats_KeysAreIndependent(t *testing.T) {
	recs := []event.Record{newRecord("t", "bad"), newRecord("t", "ok"), newRecord("t", "bad"), newRecord("t", "ok")}
	results := []InsertResult{failed(errors.New("boom")), inserted(time.Now()), {}, {}}

	resolveRepeats(context.Background(), recs, firstOccurrences(recs), results, func(_ context.Context, rec event.Record) InsertResult {
		assert.Equal(t, "bad", rec.EventID)
		return inserted(time.Now())
	})

	assert.Equal(t, Inserted, results[2].Status)
	assert.Equal(t, AlreadyExists, results[3].Status)
}
