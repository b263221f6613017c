package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-formrelay/core"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
)

func TestMemoryQueue_EnqueueNeverBlocksWhenFull(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2"} {
		if err := q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage(id))); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage("d3")))
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full queue")
	}

	var rich *goerrors.Error
	if !goerrors.As(ErrQueueFull, &rich) || rich.TextCode != core.FormRelayErrorQueueFull {
		t.Fatalf("expected queue full text code, got %#v", rich)
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Fatalf("unexpected len=%d cap=%d", q.Len(), q.Cap())
	}
}

func TestMemoryQueue_DequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueue_FIFOAndSettleOnce(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2"} {
		if err := q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage(id))); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	id, err := core.DispatchIDFromMessage(fromJobMessage(first.Message()))
	if err != nil || id != "d1" {
		t.Fatalf("expected d1 first, got %q (%v)", id, err)
	}
	if err := first.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := first.Ack(ctx); err == nil {
		t.Fatalf("expected second ack to fail")
	}
	if err := first.Nack(ctx, queue.NackOptions{Requeue: true}); err == nil {
		t.Fatalf("expected nack after ack to fail")
	}
}

func TestMemoryQueue_DelayedRequeue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage("d1"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true, Delay: 40 * time.Millisecond}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected redelivery to wait for the delay")
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	redelivered, err := q.Dequeue(waitCtx)
	if err != nil {
		t.Fatalf("dequeue redelivery: %v", err)
	}
	if attempt := redelivered.(*memoryDelivery).Attempt(); attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", attempt)
	}
}

func TestMemoryQueue_CloseRejectsEnqueue(t *testing.T) {
	q := NewMemoryQueue(2)
	q.Close()
	if err := q.Enqueue(context.Background(), toJobMessage(core.NewDispatchJobMessage("d1"))); err == nil {
		t.Fatalf("expected enqueue on closed queue to fail")
	}
}

func TestMemoryQueue_DrivesDispatchWorkers(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryOutboxStore(time.Minute)
	channel := &countingChannel{}
	supervisor, err := core.NewSupervisor(core.SupervisorConfig{Adapters: []core.ChannelAdapter{channel}})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	dispatcher, err := core.NewOutboxDispatcher(store, supervisor, nil, core.DefaultOutboxDispatcherConfig())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	record := core.DispatchRecord{
		ID:              "d1",
		Submission:      core.Submission{ID: "d1", Name: "Ada", Email: "ada@example.com", Subject: "Hi", Message: "Hello", ReferenceNumber: "REF-1"},
		PendingChannels: []core.Channel{core.ChannelWebhook},
		Status:          core.DispatchStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := store.Enqueue(ctx, record); err != nil {
		t.Fatalf("outbox enqueue: %v", err)
	}

	q := NewMemoryQueue(4)
	workers, err := core.NewDispatchWorkers(NewDequeuerAdapter(q, DefaultRetryPolicy()), dispatcher, core.DispatchWorkersConfig{Workers: 1})
	if err != nil {
		t.Fatalf("new workers: %v", err)
	}
	if err := workers.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := NewEnqueuerAdapter(q).Enqueue(ctx, core.NewDispatchJobMessage("d1")); err != nil {
		t.Fatalf("enqueue job: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for channel.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := workers.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if channel.count() != 1 {
		t.Fatalf("expected one delivery, got %d", channel.count())
	}
	stored, ok, err := store.Get(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if stored.Status != core.DispatchStatusDelivered {
		t.Fatalf("expected delivered record, got %q", stored.Status)
	}
}

type countingChannel struct {
	mu    sync.Mutex
	calls int
}

func (c *countingChannel) Channel() core.Channel { return core.ChannelWebhook }

func (c *countingChannel) Deliver(context.Context, core.Submission) core.Outcome {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return core.SentOutcome(core.ChannelWebhook, "ok")
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestMemoryQueue_LogsDeadLetters(t *testing.T) {
	logger := &recordingLogger{}
	q := NewMemoryQueue(1, WithQueueLogger(job.GoLogger(logger)))
	ctx := context.Background()
	if err := q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage("d1"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "bad message"}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if logger.last() != "dispatch job dead-lettered" {
		t.Fatalf("expected dead letter log, got %q", logger.last())
	}
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) == 0 {
		return ""
	}
	return l.msgs[len(l.msgs)-1]
}

func (l *recordingLogger) Trace(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Fatal(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) WithContext(context.Context) glog.Logger { return l }
