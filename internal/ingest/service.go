// Package ingest is the admission boundary shared by every transport:
// decode, validate, filter, then hand the whole submission to the processor.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/internal/processor"
	pkgerrors "aggregator/pkg/errors"
	"aggregator/pkg/cel"
	"aggregator/pkg/metrics"
)

const (
	TransportHTTP  = "http"
	TransportKafka = "kafka"
)

// Sink receives admitted records.
type Sink interface {
	AddEvents(recs []event.Record) error
}

type Service struct {
	sink   Sink
	filter *cel.Filter
	logger logger.Logger
}

// NewService builds the admission service. filter may be nil.
func NewService(sink Sink, filter *cel.Filter, log logger.Logger) *Service {
	return &Service{sink: sink, filter: filter, logger: log}
}

// SubmitRaw decodes body and submits the records it contains. It returns
// how many records were queued.
func (s *Service) SubmitRaw(ctx context.Context, transport string, body []byte) (int, error) {
	recs, err := event.Decode(body)
	if err != nil {
		metrics.IncRejected(transport, "validation")
		return 0, err
	}
	if err := s.Submit(ctx, transport, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Submit admits recs as one unit. Nothing is queued if any record fails the
// admission filter or the queue cannot take them all.
func (s *Service) Submit(ctx context.Context, transport string, recs []event.Record) error {
	if len(recs) == 0 {
		metrics.IncRejected(transport, "validation")
		return pkgerrors.ErrValidation.WithDetail("message", "no valid events to process")
	}

	if s.filter != nil {
		for i, rec := range recs {
			ok, err := s.filter.Match(ctx, rec)
			if err != nil {
				metrics.IncRejected(transport, "filter")
				return pkgerrors.ErrValidation.
					WithDetail("message", fmt.Sprintf("admission filter failed for event at index %d", i)).
					WithDetail("index", i).
					WithCause(err)
			}
			if !ok {
				metrics.IncRejected(transport, "filter")
				return pkgerrors.ErrValidation.
					WithDetail("message", fmt.Sprintf("event at index %d rejected by admission filter", i)).
					WithDetail("index", i).
					WithDetail("filter", s.filter.Expression())
			}
		}
	}

	if err := s.sink.AddEvents(recs); err != nil {
		if errors.Is(err, processor.ErrQueueFull) {
			metrics.IncRejected(transport, "queue_full")
			s.logger.WarnwCtx(ctx, "Intake queue full, rejecting submission", "count", len(recs), "transport", transport)
			return pkgerrors.ErrServiceUnavailable.WithDetail("message", "intake queue is full, retry later").WithCause(err)
		}
		return pkgerrors.ErrInternal.WithCause(err)
	}

	metrics.IncIngested(transport, len(recs))
	s.logger.DebugwCtx(ctx, "Events queued", "count", len(recs), "transport", transport)
	return nil
}
