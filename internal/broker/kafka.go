package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/pkg/errors"
	"aggregator/pkg/logging"
	"aggregator/pkg/metrics"
	"aggregator/pkg/retry"
	"aggregator/pkg/tracing"
)

const (
	headerDLQReason      = "dlq-reason"
	headerDLQSourceTopic = "dlq-source-topic"
	headerDLQTimestamp   = "dlq-timestamp"
	headerDLQOffset      = "dlq-source-offset"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish writes one message per record. Messages are keyed by dedup key so
// redeliveries of an event share a partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, recs ...event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})
	now := time.Now()

	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", rec.Key(), err)
		}
		msgs = append(msgs, kafka.Message{
			Topic:   topic,
			Key:     []byte(rec.Key().String()),
			Value:   body,
			Headers: headers,
			Time:    now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}

	for range msgs {
		metrics.IncKafkaMessagesWritten(constants.PublisherName, topic)
	}
	return nil
}

func (p *KafkaProducer) publishRaw(ctx context.Context, msg kafka.Message) error {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer *KafkaProducer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: constants.ServiceName,
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume reads topic until ctx is done. A message is committed once the
// handler accepted it, or once it has been routed to the DLQ.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.IncKafkaMessagesRead(c.serviceName, topic)
			c.handleMessage(ctx, m, handler)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartConsumeSpan(ctx, m)
	defer span.End()

	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	if sc := span.SpanContext(); sc.HasTraceID() {
		msgCtx = logging.WithTraceID(msgCtx, sc.TraceID().String())
	}

	err := c.processMessageWithRetry(msgCtx, m.Value, handler, m.Topic)
	if err != nil {
		span.RecordError(err)
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
			"error", err,
			"topic", m.Topic,
			"offset", m.Offset,
		)
		if c.dlqProducer != nil {
			if dlqErr := c.sendToDLQ(msgCtx, m, err); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
					"error", dlqErr,
					"topic", m.Topic,
				)
			}
		} else {
			c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
				"topic", m.Topic,
			)
		}
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", m.Topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, value []byte, handler HandlerFunc, topic string) error {
	policy := c.retryPolicy()

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, value)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

// dlqMessage copies m with the failure reason attached as headers; the
// original value is kept untouched so it can be replayed.
func dlqMessage(m kafka.Message, dlqTopic string, originalErr error, now time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers)+4)
	headers = append(headers, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerDLQReason, Value: []byte(originalErr.Error())},
		kafka.Header{Key: headerDLQSourceTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: headerDLQTimestamp, Value: []byte(now.UTC().Format(time.RFC3339Nano))},
		kafka.Header{Key: headerDLQOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
	)

	return kafka.Message{
		Topic:   dlqTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    now,
	}
}

func dlqReason(err error) string {
	if errors.IsValidation(err) {
		return "validation_failed"
	}
	return "max_retries_exceeded"
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, m kafka.Message, originalErr error) error {
	if err := c.dlqProducer.publishRaw(ctx, dlqMessage(m, c.cfg.DLQTopic, originalErr, time.Now())); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, m.Topic, dlqReason(originalErr)).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", m.Topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)
	return nil
}
