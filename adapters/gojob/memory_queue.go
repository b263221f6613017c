package gojob

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-formrelay/core"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const DefaultQueueCapacity = 256

// ErrQueueFull is returned by Enqueue when the buffer has no room. The
// submission stays in the outbox and the poller picks it up later.
var ErrQueueFull = goerrors.New("dispatch queue is full", goerrors.CategoryInternal).
	WithCode(http.StatusServiceUnavailable).
	WithTextCode(core.FormRelayErrorQueueFull)

type queuedMessage struct {
	msg     *job.ExecutionMessage
	attempt int
}

// MemoryQueue is a bounded in-process job queue. Enqueue never blocks.
type MemoryQueue struct {
	items chan queuedMessage

	mu          sync.Mutex
	deadLetters []*job.ExecutionMessage
	timers      map[*time.Timer]struct{}
	closed      bool
	logger      job.Logger
}

type MemoryQueueOption func(*MemoryQueue)

// WithQueueLogger reports dead letters and dropped redeliveries.
func WithQueueLogger(logger job.Logger) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.logger = logger
	}
}

func NewMemoryQueue(capacity int, opts ...MemoryQueueOption) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &MemoryQueue{
		items:  make(chan queuedMessage, capacity),
		timers: map[*time.Timer]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return q.push(queuedMessage{msg: cloneMessage(msg), attempt: 1})
}

func (q *MemoryQueue) push(item queuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("gojob: queue is closed")
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a message is available or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item := <-q.items:
		return &memoryDelivery{queue: q, item: item}, nil
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.items)
}

func (q *MemoryQueue) Cap() int {
	return cap(q.items)
}

// DeadLetters returns the messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.ExecutionMessage, 0, len(q.deadLetters))
	for _, msg := range q.deadLetters {
		out = append(out, cloneMessage(msg))
	}
	return out
}

// Close stops delayed redeliveries and rejects further enqueues. Messages
// already buffered can still be dequeued.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	clear(q.timers)
}

func (q *MemoryQueue) deadLetter(msg *job.ExecutionMessage, reason string) {
	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, msg)
	q.mu.Unlock()
	if q.logger != nil {
		q.logger.Info("dispatch job dead-lettered", "job_id", msg.JobID, "idempotency_key", msg.IdempotencyKey, "reason", reason)
	}
}

func (q *MemoryQueue) requeueAfter(item queuedMessage, delay time.Duration) error {
	if delay <= 0 {
		return q.push(item)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("gojob: queue is closed")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		// A full queue drops the redelivery; the outbox still holds the record.
		if err := q.push(item); err != nil && q.logger != nil {
			q.logger.Info("dispatch job redelivery dropped", "job_id", item.msg.JobID, "error", err.Error())
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

type memoryDelivery struct {
	queue *MemoryQueue
	item  queuedMessage

	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.item.msg
}

func (d *memoryDelivery) Attempt() int {
	return d.item.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.settle()
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	if opts.DeadLetter {
		d.queue.deadLetter(d.item.msg, opts.Reason)
		return nil
	}
	if !opts.Requeue {
		return nil
	}
	return d.queue.requeueAfter(queuedMessage{msg: d.item.msg, attempt: d.item.attempt + 1}, opts.Delay)
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	return nil
}

func cloneMessage(msg *job.ExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	copied := *msg
	copied.Parameters = copyAnyMap(msg.Parameters)
	return &copied
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
