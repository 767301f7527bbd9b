package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/logger"
	"aggregator/pkg/migrations"
)

// Connections holds whatever InitAll opened. Unused ones stay nil.
type Connections struct {
	Postgres *sql.DB
	Mongo    *mongo.Client
	Redis    *redis.Client
}

// MongoDatabase returns the configured database handle, or nil.
func (c *Connections) MongoDatabase(name string) *mongo.Database {
	if c.Mongo == nil {
		return nil
	}
	return c.Mongo.Database(name)
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitAll opens the primary store for the configured driver plus the Redis
// seen-key cache when a host is set. Migrations run when enabled.
func (dc *DatabaseConnector) InitAll(ctx context.Context) (*Connections, error) {
	conns := &Connections{}

	switch dc.Config.Database.Driver {
	case constants.DriverPostgres:
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		conns.Postgres = db
		if dc.Config.Database.RunMigrations && db != nil {
			if err := migrations.MigratePostgres(db); err != nil {
				dc.ShutdownDatabases(ctx, conns)
				return nil, err
			}
			dc.Logger.Infow("PostgreSQL migrations applied")
		}
	case constants.DriverMongoDB:
		client, err := dc.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		conns.Mongo = client
		if dc.Config.Database.RunMigrations && client != nil {
			if err := migrations.EnsureMongoCollections(ctx, conns.MongoDatabase(dc.Config.Database.MongoDB.Database)); err != nil {
				dc.ShutdownDatabases(ctx, conns)
				return nil, err
			}
			dc.Logger.Infow("MongoDB indexes ensured")
		}
	}

	rdb, err := dc.InitRedis(ctx)
	if err != nil {
		dc.ShutdownDatabases(ctx, conns)
		return nil, err
	}
	conns.Redis = rdb

	return conns, nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil // Redis is optional
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Infow("Redis connected successfully")
	return rdb, nil
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	if dc.Config.Database.Postgres.Host == "" {
		return nil, fmt.Errorf("postgres driver selected but database.postgres.host is empty")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.Config.Database.Postgres.User,
		dc.Config.Database.Postgres.Password,
		dc.Config.Database.Postgres.Host,
		dc.Config.Database.Postgres.Port,
		dc.Config.Database.Postgres.DBName,
		dc.Config.Database.Postgres.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.Logger.Infow("PostgreSQL connected successfully",
		"host", dc.Config.Database.Postgres.Host,
		"dbname", dc.Config.Database.Postgres.DBName,
	)
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, fmt.Errorf("mongodb driver selected but database.mongodb.uri is empty")
	}

	mongoOpts := options.Client().ApplyURI(dc.Config.Database.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Infow("MongoDB connected successfully",
		"database", dc.Config.Database.MongoDB.Database,
	)
	return mongoClient, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, conns *Connections) []error {
	var errs []error
	if conns == nil {
		return nil
	}

	if conns.Redis != nil {
		if err := conns.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if conns.Postgres != nil {
		if err := conns.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if conns.Mongo != nil {
		if err := conns.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
