package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ConcurrentInsertsOfSameKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]InsertResult, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Insert(ctx, newRecord("race", "x"))
		}(i)
	}
	wg.Wait()

	var inserted int
	for _, res := range results {
		if res.Status == Inserted {
			inserted++
		} else {
			assert.Equal(t, AlreadyExists, res.Status)
		}
	}
	assert.Equal(t, 1, inserted)

	n, err := s.Count(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Insert(ctx, newRecord("t", "1"))
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestInsertStatus_String(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
	assert.Equal(t, "failed", Failed.String())
}
