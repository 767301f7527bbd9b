//go:build integration

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"aggregator/internal/config"
	"aggregator/internal/event"
	"aggregator/internal/logger"
)

func TestKafkaRoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("aggregator-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	cfg := config.KafkaConfig{Brokers: brokers, GroupID: "aggregator-test", InputTopic: "events"}
	producer := NewKafkaProducer(cfg, logger.NopLogger())
	defer producer.Close()

	recs := []event.Record{
		{Topic: "orders", EventID: "1", Timestamp: time.Now().UTC(), Source: "test", Payload: event.Payload(`{"a":1}`)},
		{Topic: "orders", EventID: "1", Timestamp: time.Now().UTC(), Source: "test", Payload: event.Payload(`{"a":1}`)},
	}
	require.NoError(t, producer.Publish(ctx, cfg.InputTopic, recs...))

	var mu sync.Mutex
	var received []event.Record

	consumeCtx, cancel := context.WithCancel(ctx)
	consumer := NewKafkaConsumer(cfg, logger.NopLogger())
	go func() {
		_ = consumer.Consume(consumeCtx, cfg.InputTopic, func(_ context.Context, value []byte) error {
			rec, err := event.DecodeOne(value)
			if err != nil {
				return err
			}
			mu.Lock()
			received = append(received, rec)
			mu.Unlock()
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 60*time.Second, 200*time.Millisecond)

	cancel()
	require.NoError(t, consumer.Close())

	assert.Equal(t, "orders", received[0].Topic)
	assert.JSONEq(t, `{"a":1}`, string(received[0].Payload))
}
