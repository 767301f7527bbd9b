// Package broker moves event records over Kafka: the publisher produces
// them and the aggregator consumes them as another intake transport.
package broker

import (
	"context"

	"aggregator/internal/event"
)

type Producer interface {
	Publish(ctx context.Context, topic string, recs ...event.Record) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc receives the raw message value. Returning an error that is
// fatal per pkg/retry skips the remaining attempts.
type HandlerFunc func(ctx context.Context, value []byte) error
