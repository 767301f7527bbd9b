package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"aggregator/internal/constants"
	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/pkg/metrics"
)

// CachedStore puts a Redis seen-key cache in front of a Store. A key is
// written only after the wrapped store confirmed it exists, so a hit is
// always a true duplicate. Redis failures fall through to the wrapped store.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = constants.DefaultSeenKeyTTL
	}
	return &CachedStore{
		Store:  inner,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

// SeenKey returns the cache key for k.
func SeenKey(k event.Key) string {
	sum := sha256.Sum256([]byte(k.Topic + "|" + k.EventID))
	return constants.CacheKeyPrefixDedup + hex.EncodeToString(sum[:])
}

func (s *CachedStore) Insert(ctx context.Context, rec event.Record) InsertResult {
	key := SeenKey(rec.Key())

	n, err := s.client.Exists(ctx, key).Result()
	switch {
	case err != nil:
		metrics.SeenCacheTotal.WithLabelValues("error").Inc()
		s.logger.WarnwCtx(ctx, "Seen-key cache lookup failed", "error", err)
	case n > 0:
		metrics.SeenCacheTotal.WithLabelValues("hit").Inc()
		return alreadyExists()
	default:
		metrics.SeenCacheTotal.WithLabelValues("miss").Inc()
	}

	result := s.Store.Insert(ctx, rec)
	if result.Status != Failed {
		if err := s.client.Set(ctx, key, "1", s.ttl).Err(); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to record seen key", "error", err)
		}
	}
	return result
}

func (s *CachedStore) InsertBatch(ctx context.Context, recs []event.Record) []InsertResult {
	results := make([]InsertResult, len(recs))
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = SeenKey(rec.Key())
	}

	cmds := make([]*redis.IntCmd, len(recs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Exists(ctx, key)
		}
		return nil
	})
	if err != nil {
		metrics.SeenCacheTotal.WithLabelValues("error").Add(float64(len(recs)))
		s.logger.WarnwCtx(ctx, "Seen-key cache lookup failed", "error", err, "batch_size", len(recs))
	}

	misses := make([]event.Record, 0, len(recs))
	positions := make([]int, 0, len(recs))
	for i, rec := range recs {
		if err == nil && cmds[i].Val() > 0 {
			metrics.SeenCacheTotal.WithLabelValues("hit").Inc()
			results[i] = alreadyExists()
			continue
		}
		if err == nil {
			metrics.SeenCacheTotal.WithLabelValues("miss").Inc()
		}
		misses = append(misses, rec)
		positions = append(positions, i)
	}

	if len(misses) == 0 {
		return results
	}

	innerResults := InsertAll(ctx, s.Store, misses)
	confirmed := make([]string, 0, len(misses))
	for j, res := range innerResults {
		results[positions[j]] = res
		if res.Status != Failed {
			confirmed = append(confirmed, keys[positions[j]])
		}
	}

	if len(confirmed) > 0 {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range confirmed {
				pipe.Set(ctx, key, "1", s.ttl)
			}
			return nil
		})
		if err != nil {
			s.logger.WarnwCtx(ctx, "Failed to record seen keys", "error", err, "count", len(confirmed))
		}
	}

	return results
}
