package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aggregator/internal/event"
)

// MemoryStore keeps events in process memory. Used in single-process
// development mode and by tests; nothing survives a restart of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[event.Key]memoryEntry
	seq    uint64
	stats  Stats
	now    func() time.Time
}

type memoryEntry struct {
	stored event.Stored
	seq    uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[event.Key]memoryEntry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec event.Record) InsertResult {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[rec.Key()]; ok {
		return alreadyExists()
	}

	s.seq++
	at := s.now()
	s.events[rec.Key()] = memoryEntry{
		stored: event.Stored{Record: rec, ReceivedAt: at},
		seq:    s.seq,
	}
	return inserted(at)
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]event.Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]memoryEntry, 0, len(s.events))
	for _, e := range s.events {
		if q.Topic == "" || e.stored.Topic == q.Topic {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.stored.ReceivedAt.Equal(b.stored.ReceivedAt) {
			return a.stored.ReceivedAt.After(b.stored.ReceivedAt)
		}
		return a.seq > b.seq
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	out := make([]event.Stored, len(entries))
	for i, e := range entries {
		out[i] = e.stored
	}
	return out, nil
}

func (s *MemoryStore) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	set := make(map[string]struct{})
	for k := range s.events {
		set[k.Topic] = struct{}{}
	}
	s.mu.RUnlock()

	topics := make([]string, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

func (s *MemoryStore) Count(ctx context.Context, topic string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if topic == "" {
		return int64(len(s.events)), nil
	}
	var n int64
	for k := range s.events {
		if k.Topic == topic {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) IncrementStats(ctx context.Context, delta StatsDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Received += delta.Received
	s.stats.UniqueProcessed += delta.Unique
	s.stats.DuplicateDropped += delta.Duplicate
	s.stats.LastUpdated = s.now()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	if stats.LastUpdated.IsZero() {
		stats.LastUpdated = s.now()
	}
	return stats, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
