package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// RetryPolicy bounds how often a handoff job is redelivered before it is
// dead-lettered and left to the outbox poller.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		DeadLetterOnMax: true,
	}
}

// Backoff doubles BaseDelay per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Apply turns a worker's nack request for attempt into the options the
// queue receives. A requeue without a delay gets the policy backoff. Past
// MaxAttempts the job is dead-lettered, or dropped when DeadLetterOnMax is
// off; the outbox record survives either way.
func (p RetryPolicy) Apply(opts core.JobNackOptions, attempt int) queue.NackOptions {
	out := queue.NackOptions{
		Delay:      max(opts.Delay, 0),
		Requeue:    opts.Requeue && !opts.DeadLetter,
		DeadLetter: opts.DeadLetter,
		Reason:     strings.TrimSpace(opts.Reason),
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts && !out.DeadLetter {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
	}
	if out.Requeue && out.Delay == 0 {
		out.Delay = p.Backoff(attempt)
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	return out
}

func toJobMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

func fromJobMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          msg.JobID,
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: msg.IdempotencyKey,
	}
}

// EnqueuerAdapter hands dispatch jobs to a go-job enqueuer.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	switch {
	case a == nil || a.enqueuer == nil:
		return fmt.Errorf("gojob: enqueuer is not configured")
	case msg == nil:
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, toJobMessage(msg))
}

// DequeuerAdapter pulls go-job deliveries and applies the retry policy to
// every nack.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &policyDelivery{delivery: delivery, policy: a.policy}, nil
}

type policyDelivery struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func (d *policyDelivery) Message() *core.JobExecutionMessage {
	return fromJobMessage(d.delivery.Message())
}

// Attempt starts at 1. Deliveries that do not count redeliveries always
// report 1.
func (d *policyDelivery) Attempt() int {
	if counter, ok := d.delivery.(interface{ Attempt() int }); ok && counter.Attempt() > 0 {
		return counter.Attempt()
	}
	return 1
}

func (d *policyDelivery) Ack(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

func (d *policyDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.delivery.Nack(ctx, d.policy.Apply(opts, d.Attempt()))
}

// LoggingHook reports failed dispatch jobs through a go-job logger.
type LoggingHook struct {
	logger job.Logger
}

func NewLoggingHook(logger job.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (*LoggingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (*LoggingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}

func (h *LoggingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.log("dispatch job failed", event)
}

func (h *LoggingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.log("dispatch job retry scheduled", event)
}

func (h *LoggingHook) log(msg string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		args = append(args, "idempotency_key", event.Message.IdempotencyKey)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	h.logger.Error(msg, args...)
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer   = (*EnqueuerAdapter)(nil)
	_ core.JobDequeuer   = (*DequeuerAdapter)(nil)
	_ core.JobDelivery   = (*policyDelivery)(nil)
	_ core.JobWorkerHook = (*LoggingHook)(nil)
)
