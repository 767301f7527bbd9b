// Package processor turns queued events into stored, deduplicated records.
// One consumer goroutine collects batches from the intake queue and applies
// them; Stop drains whatever is still queued before returning.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/event"
	"aggregator/internal/logger"
	"aggregator/internal/store"
	"aggregator/pkg/metrics"
)

var ErrAlreadyRunning = errors.New("processor is already running")

type Options struct {
	BatchSize        int
	FirstItemTimeout time.Duration
	NextItemTimeout  time.Duration
	FlushTimeout     time.Duration
	MaxQueueSize     int
}

func DefaultOptions() Options {
	return Options{
		BatchSize:        constants.DefaultBatchMax,
		FirstItemTimeout: constants.DefaultFirstItemTimeout,
		NextItemTimeout:  constants.DefaultNextItemTimeout,
		FlushTimeout:     constants.DefaultFlushTimeout,
	}
}

// OptionsFromConfig fills unset values with defaults.
func OptionsFromConfig(cfg config.ProcessorConfig) Options {
	opts := DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if cfg.FirstItemTimeout > 0 {
		opts.FirstItemTimeout = cfg.FirstItemTimeout
	}
	if cfg.NextItemTimeout > 0 {
		opts.NextItemTimeout = cfg.NextItemTimeout
	}
	if cfg.FlushTimeout > 0 {
		opts.FlushTimeout = cfg.FlushTimeout
	}
	opts.MaxQueueSize = cfg.MaxQueueSize
	return opts
}

type Processor struct {
	store   store.Store
	queue   *Queue
	applier *Applier
	opts    Options
	logger  logger.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time // fixed at construction, survives restarts

	// applyMu serialises batch application between the consumer loop and
	// the final drain in Stop.
	applyMu sync.Mutex
}

func New(s store.Store, opts Options, log logger.Logger) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultBatchMax
	}
	return &Processor{
		store:     s,
		queue:     NewQueue(opts.MaxQueueSize),
		applier:   NewApplier(s, log),
		opts:      opts,
		logger:    log,
		startedAt: time.Now(),
	}
}

// Start launches the consumer loop. It may be called again after Stop.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(loopCtx, p.done)

	p.logger.Infow("Event processor started",
		"batch_size", p.opts.BatchSize,
		"first_item_timeout", p.opts.FirstItemTimeout.String(),
		"next_item_timeout", p.opts.NextItemTimeout.String(),
		"max_queue_size", p.opts.MaxQueueSize,
	)
	return nil
}

// AddEvent queues one record. Only a bounded queue can refuse it.
func (p *Processor) AddEvent(rec event.Record) error {
	return p.AddEvents([]event.Record{rec})
}

// AddEvents queues recs as one unit: all of them or, with a full bounded
// queue, none.
func (p *Processor) AddEvents(recs []event.Record) error {
	if err := p.queue.Put(recs...); err != nil {
		return err
	}
	metrics.SetQueueSize(p.queue.Size())
	return nil
}

// WaitUntilComplete blocks until every queued record has been applied or
// timeout elapses. It reports whether completion was observed.
func (p *Processor) WaitUntilComplete(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.queue.Join(ctx)
}

// Stop waits for the queue to empty, then halts the loop and applies
// anything still queued. When Stop returns, every record queued before the
// call has been applied.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.flush()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if !p.WaitUntilComplete(p.opts.FlushTimeout) {
		p.logger.Warnw("Timed out waiting for queue to drain, forcing flush",
			"queue_size", p.queue.Size(),
			"flush_timeout", p.opts.FlushTimeout.String(),
		)
	}

	cancel()
	<-done
	p.flush()

	p.mu.Lock()
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	p.logger.Infow("Event processor stopped")
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		batch := p.collect(ctx)
		if len(batch) > 0 {
			p.apply(batch)
		}

		if ctx.Err() != nil {
			p.flush()
			return
		}
	}
}

// collect waits up to FirstItemTimeout for a first record, then keeps
// taking records until the batch is full or NextItemTimeout passes with
// nothing new.
func (p *Processor) collect(ctx context.Context) []event.Record {
	first, ok := p.queue.Get(ctx, p.opts.FirstItemTimeout)
	if !ok {
		return nil
	}

	batch := make([]event.Record, 1, p.opts.BatchSize)
	batch[0] = first
	for len(batch) < p.opts.BatchSize {
		rec, ok := p.queue.Get(ctx, p.opts.NextItemTimeout)
		if !ok {
			break
		}
		batch = append(batch, rec)
	}
	return batch
}

// flush applies everything left in the queue as one final batch.
func (p *Processor) flush() {
	remaining := p.queue.DrainAll()
	if len(remaining) == 0 {
		return
	}
	p.logger.Infow("Flushing remaining events", "count", len(remaining))
	p.apply(remaining)
}

// apply runs detached from the loop context so a batch already taken off
// the queue is always written, even while shutting down.
func (p *Processor) apply(batch []event.Record) Outcome {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	out := p.applier.Apply(context.Background(), batch)
	p.queue.TaskDone(len(batch))
	metrics.SetQueueSize(p.queue.Size())
	return out
}

func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Uptime is measured from construction, not from the latest Start.
func (p *Processor) Uptime() time.Duration {
	return time.Since(p.startedAt)
}

func (p *Processor) QueueSize() int {
	return p.queue.Size()
}

func (p *Processor) BatchSize() int {
	return p.opts.BatchSize
}

func (p *Processor) Store() store.Store {
	return p.store
}
