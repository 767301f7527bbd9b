package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_events_processed_total",
			Help: "Total number of events classified by the dedup applier (count)",
		},
		[]string{"outcome"},
	)

	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_events_ingested_total",
			Help: "Total number of events accepted into the intake queue (count)",
		},
		[]string{"transport"},
	)

	IngestRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_ingest_rejected_total",
			Help: "Total number of submissions rejected at the ingestion boundary (count)",
		},
		[]string{"transport", "reason"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_batch_size",
			Help:    "Number of events per applied batch (count)",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	BatchApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_batch_apply_duration_ms",
			Help:    "Time to apply one batch to the identity store in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	QueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregator_queue_size",
			Help: "Current number of events waiting in the intake queue (count)",
		},
	)

	StatsUpdateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregator_stats_update_failures_total",
			Help: "Total number of failed stats aggregate updates (count)",
		},
	)

	SeenCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_seen_cache_total",
			Help: "Seen-key cache lookups by result (count)",
		},
		[]string{"result"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once; processor restarts and tests share the same process registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsProcessedTotal,
			EventsIngestedTotal,
			IngestRejectedTotal,
			BatchSize,
			BatchApplyDuration,
			QueueSize,
			StatsUpdateFailuresTotal,
			SeenCacheTotal,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
		)
	})
}

func ObserveBatch(size int, duration time.Duration, unique, duplicate, failed int) {
	BatchSize.Observe(float64(size))
	BatchApplyDuration.Observe(float64(duration.Milliseconds()))
	EventsProcessedTotal.WithLabelValues("unique").Add(float64(unique))
	EventsProcessedTotal.WithLabelValues("duplicate").Add(float64(duplicate))
	EventsProcessedTotal.WithLabelValues("failed").Add(float64(failed))
}

func SetQueueSize(size int) {
	QueueSize.Set(float64(size))
}

func IncIngested(transport string, n int) {
	EventsIngestedTotal.WithLabelValues(transport).Add(float64(n))
}

func IncRejected(transport, reason string) {
	IngestRejectedTotal.WithLabelValues(transport, reason).Inc()
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
