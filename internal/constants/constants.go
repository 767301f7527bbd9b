package constants

import "time"

const (
	ServiceName   = "aggregator"
	PublisherName = "publisher"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
	DefaultSeenKeyTTL   = 24 * time.Hour
)

const (
	DefaultInputTopic = "events"
)

const (
	DefaultMongoDBName = "aggregator"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit    = 100
	MaxLimit        = 1000
	MaxFieldLength  = 255
	DefaultBatchMax = 100
)

// Batch collector timing. The first wait is long so an idle loop still
// notices cancellation; the second is short so partial batches flush fast.
const (
	DefaultFirstItemTimeout = 1 * time.Second
	DefaultNextItemTimeout  = 100 * time.Millisecond
	DefaultFlushTimeout     = 30 * time.Second
)

const (
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
	DriverMemory   = "memory"
)

const (
	OutcomeUnique    = "unique"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)
