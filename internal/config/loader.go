package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"aggregator/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("database.driver", constants.DriverPostgres)
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.ttl_seconds", int(constants.DefaultSeenKeyTTL.Seconds()))
	v.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)

	v.SetDefault("processor.batch_size", constants.DefaultBatchMax)
	v.SetDefault("processor.first_item_timeout", constants.DefaultFirstItemTimeout)
	v.SetDefault("processor.next_item_timeout", constants.DefaultNextItemTimeout)
	v.SetDefault("processor.flush_timeout", constants.DefaultFlushTimeout)
	v.SetDefault("processor.max_queue_size", 0)

	v.SetDefault("ingest.rate_limit.rps", 100.0)
	v.SetDefault("ingest.rate_limit.burst", 200)
	v.SetDefault("ingest.rate_limit.cleanup_interval", "5m")
	v.SetDefault("ingest.rate_limit.max_age", "10m")

	v.SetDefault("broker.kafka.input_topic", constants.DefaultInputTopic)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.type", "BROKER_TYPE")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	v.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")

	v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	v.BindEnv("processor.batch_size", "BATCH_SIZE")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("logging.level", "LOG_LEVEL")

	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
