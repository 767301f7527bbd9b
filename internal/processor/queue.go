package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"aggregator/internal/event"
)

var ErrQueueFull = errors.New("intake queue is full")

// Queue is a FIFO buffer safe for many producers and one consumer. It is
// unbounded unless constructed with a positive max size. Every record put
// counts as unfinished until the consumer reports it done, which is what
// Join waits on.
type Queue struct {
	mu         sync.Mutex
	items      []event.Record
	maxSize    int
	unfinished int
	idle       chan struct{}
	notify     chan struct{}
}

func NewQueue(maxSize int) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		maxSize: maxSize,
		idle:    idle,
		notify:  make(chan struct{}, 1),
	}
}

// Put appends recs as one unit. A bounded queue rejects the whole call when
// the records do not all fit.
func (q *Queue) Put(recs ...event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.maxSize > 0 && len(q.items)+len(recs) > q.maxSize {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, recs...)
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished += len(recs)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Get waits up to timeout for the next record. ok is false when the timeout
// elapses or ctx is done with nothing queued.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (rec event.Record, ok bool) {
	var timer *time.Timer
	for {
		if rec, ok := q.pop(); ok {
			return rec, true
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-q.notify:
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			return event.Record{}, false
		}
	}
}

func (q *Queue) pop() (event.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return event.Record{}, false
	}
	rec := q.items[0]
	q.items[0] = event.Record{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	} else {
		q.signal()
	}
	return rec, true
}

// DrainAll removes and returns everything currently queued.
func (q *Queue) DrainAll() []event.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// TaskDone marks n previously taken records as fully processed.
func (q *Queue) TaskDone(n int) {
	if n <= 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.unfinished -= n
	if q.unfinished <= 0 {
		q.unfinished = 0
		select {
		case <-q.idle:
		default:
			close(q.idle)
		}
	}
}

// Join blocks until every record put has been marked done or ctx ends.
// It reports whether the queue went idle.
func (q *Queue) Join(ctx context.Context) bool {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
