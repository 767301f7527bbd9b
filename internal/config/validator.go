package config

import (
	"errors"
	"fmt"

	"aggregator/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateProcessor(cfg.Processor); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if cfg.Ingest.RateLimit.Enabled {
		if cfg.Ingest.RateLimit.RPS <= 0 || cfg.Ingest.RateLimit.Burst <= 0 {
			errs = append(errs, &ValidationError{
				Field:   "ingest.rate_limit",
				Message: "rps and burst must be positive when rate limiting is enabled",
			})
		}
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateProcessor(cfg ProcessorConfig) error {
	if cfg.BatchSize < 1 {
		return &ValidationError{
			Field:   "processor.batch_size",
			Message: fmt.Sprintf("batch size must be at least 1, got %d", cfg.BatchSize),
		}
	}

	if cfg.FirstItemTimeout <= 0 || cfg.NextItemTimeout <= 0 {
		return &ValidationError{
			Field:   "processor.first_item_timeout",
			Message: "collector timeouts must be positive",
		}
	}

	if cfg.NextItemTimeout > cfg.FirstItemTimeout {
		return &ValidationError{
			Field:   "processor.next_item_timeout",
			Message: "next item timeout must not exceed first item timeout",
		}
	}

	if cfg.FlushTimeout <= 0 {
		return &ValidationError{
			Field:   "processor.flush_timeout",
			Message: "flush timeout must be positive",
		}
	}

	if cfg.MaxQueueSize < 0 {
		return &ValidationError{
			Field:   "processor.max_queue_size",
			Message: "max queue size must be non-negative (0 = unbounded)",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	switch cfg.Driver {
	case constants.DriverPostgres:
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	case constants.DriverMongoDB:
		if cfg.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "MongoDB URI is required for the mongodb driver",
			}
		}
	case constants.DriverMemory:
	default:
		return &ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unknown driver: %s (supported: postgres, mongodb, memory)", cfg.Driver),
		}
	}

	if cfg.Redis.Host != "" {
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			return &ValidationError{
				Field:   "database.redis.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
			}
		}
		if cfg.Redis.TTLSeconds <= 0 {
			return &ValidationError{
				Field:   "database.redis.ttl_seconds",
				Message: "seen-key TTL must be positive",
			}
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "database name is required",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.InputTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "input topic is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}
