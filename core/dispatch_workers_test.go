package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type chanDelivery struct {
	msg   *JobExecutionMessage
	mu    sync.Mutex
	acked bool
	nack  *JobNackOptions
}

func (d *chanDelivery) Message() *JobExecutionMessage { return d.msg }

func (d *chanDelivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *chanDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nack = &opts
	return nil
}

func (d *chanDelivery) state() (bool, *JobNackOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.nack
}

type chanDequeuer struct {
	ch chan JobDelivery
}

func (q *chanDequeuer) Dequeue(ctx context.Context) (JobDelivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case delivery := <-q.ch:
		return delivery, nil
	}
}

type countingHook struct {
	mu       sync.Mutex
	success  int
	failures int
	done     chan struct{}
}

func (h *countingHook) OnStart(context.Context, JobWorkerEvent) {}
func (h *countingHook) OnRetry(context.Context, JobWorkerEvent) {}

func (h *countingHook) OnSuccess(context.Context, JobWorkerEvent) {
	h.mu.Lock()
	h.success++
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *countingHook) OnFailure(context.Context, JobWorkerEvent) {
	h.mu.Lock()
	h.failures++
	h.mu.Unlock()
	h.done <- struct{}{}
}

func TestDispatchWorkers_ConsumeQueueAndAck(t *testing.T) {
	store := NewMemoryOutboxStore(time.Minute)
	email := newStubChannel(ChannelEmail, SentOutcome(ChannelEmail, "ok"))
	dispatcher := newTestDispatcher(t, store, nil, DefaultOutboxDispatcherConfig(), email)
	enqueueTestRecord(t, store, "d1", ChannelEmail)

	queue := &chanDequeuer{ch: make(chan JobDelivery, 2)}
	hook := &countingHook{done: make(chan struct{}, 2)}
	workers, err := NewDispatchWorkers(queue, dispatcher, DispatchWorkersConfig{Workers: 2, Hook: hook})
	if err != nil {
		t.Fatalf("new workers: %v", err)
	}
	if err := workers.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	good := &chanDelivery{msg: NewDispatchJobMessage("d1")}
	bad := &chanDelivery{msg: &JobExecutionMessage{JobID: "other"}}
	queue.ch <- good
	queue.ch <- bad
	for i := 0; i < 2; i++ {
		select {
		case <-hook.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for worker")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := workers.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if acked, _ := good.state(); !acked {
		t.Fatalf("expected dispatch job to be acked")
	}
	if _, nack := bad.state(); nack == nil || nack.Requeue || !nack.DeadLetter {
		t.Fatalf("expected malformed job to be dead-lettered, got %#v", nack)
	}
	if email.callCount() != 1 {
		t.Fatalf("expected one delivery, got %d", email.callCount())
	}
	if hook.success != 1 || hook.failures != 1 {
		t.Fatalf("unexpected hook counts success=%d failures=%d", hook.success, hook.failures)
	}
}

func TestDispatchWorkers_PollDrainsDueRecords(t *testing.T) {
	store := NewMemoryOutboxStore(time.Minute)
	email := newStubChannel(ChannelEmail, SentOutcome(ChannelEmail, "ok"))
	dispatcher := newTestDispatcher(t, store, nil, DefaultOutboxDispatcherConfig(), email)
	enqueueTestRecord(t, store, "d1", ChannelEmail)
	enqueueTestRecord(t, store, "d2", ChannelEmail)

	workers, err := NewDispatchWorkers(nil, dispatcher, DispatchWorkersConfig{BatchSize: 10})
	if err != nil {
		t.Fatalf("new workers: %v", err)
	}
	stats := workers.Poll(context.Background())
	if stats.Claimed != 2 || stats.Delivered != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDispatchIDFromMessage(t *testing.T) {
	id, err := DispatchIDFromMessage(NewDispatchJobMessage(" d1 "))
	if err != nil || id != "d1" {
		t.Fatalf("expected d1, got %q err=%v", id, err)
	}
	if _, err := DispatchIDFromMessage(&JobExecutionMessage{JobID: DispatchJobID}); err == nil {
		t.Fatalf("expected missing parameter error")
	}
	if _, err := DispatchIDFromMessage(nil); err == nil {
		t.Fatalf("expected nil message error")
	}
}
