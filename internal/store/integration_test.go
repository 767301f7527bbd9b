//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	mongomodule "github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/pkg/migrations"
)

func init() {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
}

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("events_db"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, migrations.MigratePostgres(db))
	return db
}

func setupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	container, err := mongomodule.Run(ctx, "mongo:6")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(ctx) })

	db := client.Database("events_db")
	require.NoError(t, migrations.EnsureMongoCollections(ctx, db))
	return db
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestPostgresStore_Contract(t *testing.T) {
	runStoreContract(t, NewPostgresStore(setupPostgres(t)))
}

func TestPostgresStore_BulkContract(t *testing.T) {
	runStoreContract(t, NewPostgresStore(setupPostgres(t), WithBulkInsert(true)))
}

func TestPostgresStore_BulkFallbackIsolatesBadRecord(t *testing.T) {
	s := NewPostgresStore(setupPostgres(t), WithBulkInsert(true))
	ctx := context.Background()

	bad := newRecord("bulk", "bad")
	bad.Payload = event.Payload(`{"broken":`)

	results := s.InsertBatch(ctx, []event.Record{newRecord("bulk", "1"), bad, newRecord("bulk", "2")})
	assert.Equal(t, Inserted, results[0].Status)
	assert.Equal(t, Failed, results[1].Status)
	assert.Error(t, results[1].Err)
	assert.Equal(t, Inserted, results[2].Status)
}

func TestPostgresStore_PayloadRoundTripsVerbatim(t *testing.T) {
	s := NewPostgresStore(setupPostgres(t))
	ctx := context.Background()

	rec := newRecord("verbatim", "1")
	rec.Payload = event.Payload(`{"z": 1, "a": [true, null]}`)
	require.Equal(t, Inserted, s.Insert(ctx, rec).Status)

	stored, err := s.List(ctx, Query{Topic: "verbatim"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, string(rec.Payload), string(stored[0].Payload))
	assert.True(t, rec.Timestamp.Equal(stored[0].Timestamp))
}

func TestMongoStore_Contract(t *testing.T) {
	runStoreContract(t, NewMongoStore(setupMongo(t)))
}

func TestCachedStore_Contract(t *testing.T) {
	runStoreContract(t, NewCachedStore(NewMemoryStore(), setupRedis(t), time.Minute, logger.NopLogger()))
}

func TestCachedStore_HitSkipsBackingStore(t *testing.T) {
	client := setupRedis(t)
	inner := &faultyStore{MemoryStore: NewMemoryStore()}
	s := NewCachedStore(inner, client, time.Minute, logger.NopLogger())
	ctx := context.Background()

	require.Equal(t, Inserted, s.Insert(ctx, newRecord("t", "1")).Status)
	assert.Equal(t, 1, inner.calls)

	inner.err = fmt.Errorf("backing store down")
	assert.Equal(t, AlreadyExists, s.Insert(ctx, newRecord("t", "1")).Status)
	assert.Equal(t, 1, inner.calls)

	ttl, err := client.TTL(ctx, SeenKey(event.Key{Topic: "t", EventID: "1"})).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestCachedStore_FailedInsertIsNotCached(t *testing.T) {
	client := setupRedis(t)
	inner := &faultyStore{MemoryStore: NewMemoryStore(), err: fmt.Errorf("disk full")}
	s := NewCachedStore(inner, client, time.Minute, logger.NopLogger())
	ctx := context.Background()

	assert.Equal(t, Failed, s.Insert(ctx, newRecord("t", "1")).Status)

	n, err := client.Exists(ctx, SeenKey(event.Key{Topic: "t", EventID: "1"})).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	inner.err = nil
	assert.Equal(t, Inserted, s.Insert(ctx, newRecord("t", "1")).Status)
}
