package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DispatchJobID          = "formrelay.dispatch"
	DispatchJobParameterID = "dispatch_id"
)

func NewDispatchJobMessage(dispatchID string) *JobExecutionMessage {
	dispatchID = strings.TrimSpace(dispatchID)
	return &JobExecutionMessage{
		JobID:          DispatchJobID,
		Parameters:     map[string]any{DispatchJobParameterID: dispatchID},
		IdempotencyKey: "dispatch:" + dispatchID,
	}
}

func DispatchIDFromMessage(msg *JobExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("core: job message is required")
	}
	if msg.JobID != DispatchJobID {
		return "", fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	raw, ok := msg.Parameters[DispatchJobParameterID]
	if !ok {
		return "", fmt.Errorf("core: job message has no %s parameter", DispatchJobParameterID)
	}
	id, ok := raw.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("core: job message %s parameter is invalid", DispatchJobParameterID)
	}
	return strings.TrimSpace(id), nil
}

type DispatchWorkersConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	RetryDelay   time.Duration
	Hook         JobWorkerHook
	Logger       Logger
	Metrics      MetricsRecorder
}

// DispatchWorkers consumes handoff jobs and periodically drains due outbox
// records so nothing is lost when the queue was full or the process restarted.
type DispatchWorkers struct {
	telemetry
	dequeuer   JobDequeuer
	dispatcher *OutboxDispatcher
	config     DispatchWorkersConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatchWorkers(dequeuer JobDequeuer, dispatcher *OutboxDispatcher, config DispatchWorkersConfig) (*DispatchWorkers, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("core: outbox dispatcher is required")
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Dispatch.Workers
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	return &DispatchWorkers{
		telemetry:  newTelemetry(config.Logger, config.Metrics),
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		config:     config,
	}, nil
}

func (w *DispatchWorkers) Start(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("core: dispatch workers are not configured")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.running = true

	if w.dequeuer != nil {
		for i := 0; i < w.config.Workers; i++ {
			w.wg.Add(1)
			go w.dequeueLoop(loopCtx, i)
		}
	}
	if w.config.PollInterval > 0 {
		w.wg.Add(1)
		go w.pollLoop(loopCtx)
	}
	w.logInfo(ctx, "dispatch workers started", map[string]any{
		"workers":          w.config.Workers,
		"poll_interval_ms": w.config.PollInterval.Milliseconds(),
	})
	return nil
}

// Stop stops taking new work and waits for in-flight dispatches until ctx
// expires.
func (w *DispatchWorkers) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		w.logInfo(ctx, "dispatch workers stopped", nil)
		return nil
	case <-ctx.Done():
		w.logWarn(ctx, "dispatch workers shutdown timed out", nil)
		return ctx.Err()
	}
}

func (w *DispatchWorkers) dequeueLoop(ctx context.Context, worker int) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logWarn(ctx, "dispatch dequeue failed", map[string]any{"worker": worker, "error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		if delivery == nil {
			continue
		}
		w.handle(context.WithoutCancel(ctx), delivery)
	}
}

func (w *DispatchWorkers) handle(ctx context.Context, delivery JobDelivery) {
	msg := delivery.Message()
	startedAt := time.Now()
	attempt := 1
	if counter, ok := delivery.(interface{ Attempt() int }); ok && counter.Attempt() > 0 {
		attempt = counter.Attempt()
	}
	event := JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.hookStart(ctx, event)

	id, err := DispatchIDFromMessage(msg)
	malformed := err != nil
	if !malformed {
		_, err = w.dispatcher.DispatchOne(ctx, id)
	}
	event.Duration = time.Since(startedAt)
	event.Err = err
	w.observeOperation(ctx, startedAt, "dispatch_job", err, map[string]any{"dispatch_id": id, "attempt": attempt})
	if err != nil {
		// The outbox keeps the record, so a dead-lettered job is still
		// picked up by the poller.
		nack := JobNackOptions{Requeue: true, Delay: w.config.RetryDelay, Reason: err.Error()}
		if malformed {
			nack = JobNackOptions{DeadLetter: true, Reason: err.Error()}
		}
		if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
			w.logWarn(ctx, "dispatch job nack failed", map[string]any{"dispatch_id": id, "error": nackErr.Error()})
		}
		if nack.Requeue {
			event.Delay = nack.Delay
			w.hookRetry(ctx, event)
			return
		}
		w.hookFailure(ctx, event)
		return
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		w.logWarn(ctx, "dispatch job ack failed", map[string]any{"dispatch_id": id, "error": ackErr.Error()})
	}
	w.hookSuccess(ctx, event)
}

func (w *DispatchWorkers) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(context.WithoutCancel(ctx))
		}
	}
}

// Poll drains one batch of due outbox records.
func (w *DispatchWorkers) Poll(ctx context.Context) DispatchStats {
	startedAt := time.Now()
	stats, err := w.dispatcher.DispatchPending(ctx, w.config.BatchSize)
	if err != nil || stats.Claimed > 0 {
		w.observeOperation(ctx, startedAt, "dispatch_poll", err, map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
		})
	}
	return stats
}

func (w *DispatchWorkers) hookStart(ctx context.Context, event JobWorkerEvent) {
	if w.config.Hook != nil {
		w.config.Hook.OnStart(ctx, event)
	}
}

func (w *DispatchWorkers) hookSuccess(ctx context.Context, event JobWorkerEvent) {
	if w.config.Hook != nil {
		w.config.Hook.OnSuccess(ctx, event)
	}
}

func (w *DispatchWorkers) hookRetry(ctx context.Context, event JobWorkerEvent) {
	if w.config.Hook != nil {
		w.config.Hook.OnRetry(ctx, event)
	}
}

func (w *DispatchWorkers) hookFailure(ctx context.Context, event JobWorkerEvent) {
	if w.config.Hook != nil {
		w.config.Hook.OnFailure(ctx, event)
	}
}
