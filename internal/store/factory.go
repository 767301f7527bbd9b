package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/logger"
)

// Backends carries the connections opened at startup. Unused ones are nil.
type Backends struct {
	Postgres *sql.DB
	Mongo    *mongo.Database
	Redis    *redis.Client
}

// New assembles the configured store. The seen-key cache sits outermost so
// cache hits never reach the breaker.
func New(cfg *config.Config, b Backends, log logger.Logger) (Store, error) {
	var base Store

	switch cfg.Database.Driver {
	case constants.DriverPostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("postgres driver selected but no connection available")
		}
		base = NewPostgresStore(b.Postgres, WithBulkInsert(cfg.Database.Postgres.BulkInsert))
	case constants.DriverMongoDB:
		if b.Mongo == nil {
			return nil, fmt.Errorf("mongodb driver selected but no connection available")
		}
		base = NewMongoStore(b.Mongo)
	case constants.DriverMemory:
		base = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}

	var s Store = NewCircuitBreakerStore(base, cfg.Database.Driver, cfg.CircuitBreaker)

	// Seen keys outlive a process but memory contents do not, so after a
	// restart a cached key would hide an event that was never stored.
	if b.Redis != nil && cfg.Database.Driver == constants.DriverMemory {
		log.Warnw("Ignoring Redis seen-key cache for the memory driver")
		return s, nil
	}

	if b.Redis != nil {
		ttl := time.Duration(cfg.Database.Redis.TTLSeconds) * time.Second
		s = NewCachedStore(s, b.Redis, ttl, log)
	}

	return s, nil
}
