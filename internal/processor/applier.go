package processor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/internal/store"
	"aggregator/pkg/logging"
	"aggregator/pkg/metrics"
	"aggregator/pkg/tracing"
)

// Outcome summarises one applied batch.
type Outcome struct {
	Unique    int
	Duplicate int
	Failed    int
}

// Applier inserts each record of a batch in isolation, classifies it and
// folds the batch into the stats aggregate with one update.
type Applier struct {
	store  store.Store
	logger logger.Logger
}

func NewApplier(s store.Store, log logger.Logger) *Applier {
	return &Applier{store: s, logger: log}
}

func (a *Applier) Apply(ctx context.Context, batch []event.Record) Outcome {
	var out Outcome
	if len(batch) == 0 {
		return out
	}

	ctx, span := tracing.StartBatchSpan(ctx, len(batch))
	defer func() { tracing.EndBatchSpan(span, out.Unique, out.Duplicate, out.Failed) }()

	start := time.Now()
	results := store.InsertAll(ctx, a.store, batch)

	for i, res := range results {
		rec := batch[i]
		switch res.Status {
		case store.Inserted:
			out.Unique++
		case store.AlreadyExists:
			out.Duplicate++
			a.logger.DebugwCtx(logging.WithEventKey(ctx, rec.Topic, rec.EventID), "Duplicate event dropped")
		default:
			out.Failed++
			a.logger.ErrorwCtx(logging.WithEventKey(ctx, rec.Topic, rec.EventID), "Failed to store event",
				"error", res.Err,
			)
		}
	}

	delta := store.StatsDelta{
		Received:  int64(len(batch)),
		Unique:    int64(out.Unique),
		Duplicate: int64(out.Duplicate),
	}
	if err := a.store.IncrementStats(ctx, delta); err != nil {
		metrics.StatsUpdateFailuresTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats update failed")
		a.logger.ErrorwCtx(ctx, "Failed to update statistics",
			"error", err,
			"received", delta.Received,
			"unique", delta.Unique,
			"duplicate", delta.Duplicate,
		)
	}

	elapsed := time.Since(start)
	metrics.ObserveBatch(len(batch), elapsed, out.Unique, out.Duplicate, out.Failed)

	a.logger.InfowCtx(ctx, "Batch processed",
		"size", len(batch),
		"unique", out.Unique,
		"duplicate", out.Duplicate,
		"failed", out.Failed,
		"duration_ms", elapsed.Milliseconds(),
	)

	return out
}
