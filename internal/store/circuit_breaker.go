package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"aggregator/internal/config"
	"aggregator/internal/event"
	"aggregator/pkg/circuitbreaker"
)

// CircuitBreakerStore trips after repeated insert faults. While open, inserts
// fail fast with Failed instead of waiting on a sick backend. Stats updates
// are never short-circuited.
type CircuitBreakerStore struct {
	Store
	name string
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(inner Store, name string, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{Store: inner, name: name}
	}

	cbConfig := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}

	return &CircuitBreakerStore{
		Store: inner,
		name:  name,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Insert(ctx context.Context, rec event.Record) InsertResult {
	if s.cb == nil {
		return s.Store.Insert(ctx, rec)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		res := s.Store.Insert(ctx, rec)
		if res.Status == Failed {
			return res, res.Err
		}
		return res, nil
	})

	if res, ok := result.(InsertResult); ok {
		return res
	}
	return failed(s.openError(err))
}

// InsertBatch counts as a breaker failure only when every record failed.
func (s *CircuitBreakerStore) InsertBatch(ctx context.Context, recs []event.Record) []InsertResult {
	if s.cb == nil {
		return InsertAll(ctx, s.Store, recs)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		results := InsertAll(ctx, s.Store, recs)
		for _, res := range results {
			if res.Status != Failed {
				return results, nil
			}
		}
		if len(results) > 0 {
			return results, results[0].Err
		}
		return results, nil
	})

	if results, ok := result.([]InsertResult); ok {
		return results
	}

	cause := s.openError(err)
	results := make([]InsertResult, len(recs))
	for i := range results {
		results[i] = failed(cause)
	}
	return results
}

func (s *CircuitBreakerStore) openError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.name, err)
	}
	return err
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) IsOpen() bool {
	if s.cb == nil {
		return false
	}
	return s.cb.IsOpen()
}
