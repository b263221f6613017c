package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-formrelay/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestJobMessageMapping_KeepsDispatchID(t *testing.T) {
	original := core.NewDispatchJobMessage("3f1c9d7e-2b41-4c55-9a51-0d0b3c8e7f10")

	converted := toJobMessage(original)
	if converted.JobID != core.DispatchJobID || converted.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("unexpected go-job message %#v", converted)
	}
	id, err := core.DispatchIDFromMessage(fromJobMessage(converted))
	if err != nil || id != "3f1c9d7e-2b41-4c55-9a51-0d0b3c8e7f10" {
		t.Fatalf("expected dispatch id to survive mapping, got %q (%v)", id, err)
	}

	original.Parameters["mutated"] = true
	if _, ok := converted.Parameters["mutated"]; ok {
		t.Fatalf("expected parameters to be copied")
	}
	if toJobMessage(nil) != nil || fromJobMessage(nil) != nil {
		t.Fatalf("expected nil messages to map to nil")
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	cases := map[int]time.Duration{
		0: 0,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: time.Second,
		9: time.Second,
	}
	for attempt, want := range cases {
		if got := policy.Backoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
	if (RetryPolicy{}).Backoff(3) != 0 {
		t.Fatalf("expected zero backoff without a base delay")
	}
}

func TestRetryPolicy_Apply(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second, DeadLetterOnMax: true}

	got := policy.Apply(core.JobNackOptions{Requeue: true, Reason: "  smtp down "}, 2)
	if !got.Requeue || got.DeadLetter || got.Delay != 2*time.Second || got.Reason != "smtp down" {
		t.Fatalf("expected backoff requeue, got %#v", got)
	}

	got = policy.Apply(core.JobNackOptions{Requeue: true, Delay: time.Minute}, 1)
	if got.Delay != 5*time.Second {
		t.Fatalf("expected delay capped at max, got %s", got.Delay)
	}

	got = policy.Apply(core.JobNackOptions{Requeue: true, Delay: -time.Second}, 1)
	if got.Delay != time.Second {
		t.Fatalf("expected negative delay replaced by backoff, got %s", got.Delay)
	}

	got = policy.Apply(core.JobNackOptions{Requeue: true}, 3)
	if got.Requeue || !got.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", got)
	}

	got = policy.Apply(core.JobNackOptions{Requeue: true, DeadLetter: true}, 1)
	if got.Requeue || !got.DeadLetter {
		t.Fatalf("expected explicit dead letter to win, got %#v", got)
	}

	policy.DeadLetterOnMax = false
	got = policy.Apply(core.JobNackOptions{Requeue: true}, 3)
	if got.Requeue || got.DeadLetter {
		t.Fatalf("expected job to be dropped at max attempts, got %#v", got)
	}
}

func TestEnqueuerAndDequeuerAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, core.NewDispatchJobMessage("d1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != core.DispatchJobID {
		t.Fatalf("expected mapped go-job message, got %#v", enqueuer.last)
	}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, nil); err == nil {
		t.Fatalf("expected nil message to be rejected")
	}
	if err := NewEnqueuerAdapter(nil).Enqueue(ctx, core.NewDispatchJobMessage("d1")); err == nil {
		t.Fatalf("expected missing enqueuer to be rejected")
	}

	raw := &stubQueueDelivery{msg: enqueuer.last}
	delivery, err := NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{MaxAttempts: 1, DeadLetterOnMax: true}).Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id, err := core.DispatchIDFromMessage(delivery.Message()); err != nil || id != "d1" {
		t.Fatalf("expected d1, got %q (%v)", id, err)
	}
	if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !raw.nackOpts.DeadLetter {
		t.Fatalf("expected attempt 1 of 1 to dead-letter, got %#v", raw.nackOpts)
	}
	if err := delivery.Ack(ctx); err != nil || !raw.acked {
		t.Fatalf("expected ack passthrough, err=%v", err)
	}
	if _, err := NewDequeuerAdapter(nil, RetryPolicy{}).Dequeue(ctx); err == nil {
		t.Fatalf("expected missing dequeuer to be rejected")
	}
}

func TestDequeuerAdapter_CountsMemoryQueueAttempts(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	if err := q.Enqueue(ctx, toJobMessage(core.NewDispatchJobMessage("d1"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dequeuer := NewDequeuerAdapter(q, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})

	first, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := first.Nack(ctx, core.JobNackOptions{Requeue: true, Reason: "smtp down"}); err != nil {
		t.Fatalf("nack: %v", err)
	}

	second, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue retry: %v", err)
	}
	if attempt := second.(*policyDelivery).Attempt(); attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", attempt)
	}
	if err := second.Nack(ctx, core.JobNackOptions{Requeue: true, Reason: "smtp down"}); err != nil {
		t.Fatalf("nack retry: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected no redelivery after max attempts, queue has %d", q.Len())
	}
	if dead := q.DeadLetters(); len(dead) != 1 || dead[0].JobID != core.DispatchJobID {
		t.Fatalf("expected one dead letter, got %#v", dead)
	}
}

func TestLoggingHook_ReportsFailures(t *testing.T) {
	logger := &recordingLogger{}
	hook := NewLoggingHook(job.GoLogger(logger))
	event := core.JobWorkerEvent{
		Message:  core.NewDispatchJobMessage("d1"),
		Attempt:  2,
		Err:      errors.New("claim failed"),
		Duration: 15 * time.Millisecond,
	}

	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)
	if logger.last() != "" {
		t.Fatalf("expected start and success to stay quiet, got %q", logger.last())
	}
	hook.OnFailure(context.Background(), event)
	if logger.last() != "dispatch job failed" {
		t.Fatalf("expected failure log, got %q", logger.last())
	}
	hook.OnRetry(context.Background(), event)
	if logger.last() != "dispatch job retry scheduled" {
		t.Fatalf("expected retry log, got %q", logger.last())
	}

	var silent *LoggingHook
	silent.OnFailure(context.Background(), event)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
