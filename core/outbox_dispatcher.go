package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         Logger
	Metrics        MetricsRecorder
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// OutboxDispatcher drives dispatch records from the outbox through the
// supervisor and reschedules channels whose failure was transient.
type OutboxDispatcher struct {
	telemetry
	store      OutboxStore
	supervisor *Supervisor
	ledger     OutcomeLedger
	config     OutboxDispatcherConfig
	now        func() time.Time
}

func NewOutboxDispatcher(
	store OutboxStore,
	supervisor *Supervisor,
	ledger OutcomeLedger,
	config OutboxDispatcherConfig,
) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	if supervisor == nil {
		return nil, fmt.Errorf("core: dispatch supervisor is required")
	}
	defaults := DefaultOutboxDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &OutboxDispatcher{
		telemetry:  newTelemetry(config.Logger, config.Metrics),
		store:      store,
		supervisor: supervisor,
		ledger:     ledger,
		config:     config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// DispatchOne claims a single record by id. A record that is already being
// processed, or was already finished, is left alone.
func (d *OutboxDispatcher) DispatchOne(ctx context.Context, id string) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return DispatchStats{}, fmt.Errorf("core: dispatch id is required")
	}
	record, ok, err := d.store.Claim(ctx, id)
	if err != nil {
		return DispatchStats{}, err
	}
	if !ok {
		return DispatchStats{}, nil
	}
	stats := DispatchStats{Claimed: 1}
	err = d.process(ctx, record, &stats)
	return stats, err
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	records, err := d.store.ClaimDue(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(records)}
	var dispatchErr error
	for _, record := range records {
		if err := d.process(ctx, record, &stats); err != nil {
			dispatchErr = joinErrors(dispatchErr, err)
		}
	}
	return stats, dispatchErr
}

func (d *OutboxDispatcher) process(ctx context.Context, record DispatchRecord, stats *DispatchStats) error {
	report := d.supervisor.DispatchRecord(ctx, record)
	if d.ledger != nil {
		if err := d.ledger.Record(ctx, report); err != nil {
			d.logWarn(ctx, "outcome ledger record failed", map[string]any{
				"dispatch_id": record.ID,
				"error":       err.Error(),
			})
		}
	}

	retryable := report.RetryableChannels()
	if len(retryable) == 0 {
		if err := d.store.Complete(ctx, record.ID); err != nil {
			return err
		}
		stats.Delivered++
		return nil
	}

	cause := retryCause(report)
	attempt := report.Attempt
	if attempt >= d.config.MaxAttempts {
		stats.Failed++
		d.logError(ctx, "dispatch exhausted retries", map[string]any{
			"dispatch_id":      record.ID,
			"reference_number": report.ReferenceNumber,
			"attempt":          attempt,
			"channels":         ChannelStrings(retryable),
			"error":            cause,
		})
		return d.store.Retry(ctx, record.ID, retryable, cause, time.Time{})
	}

	delay := d.nextBackoffDelay(attempt)
	stats.Retried++
	d.logInfo(ctx, "dispatch scheduled for retry", map[string]any{
		"dispatch_id":      record.ID,
		"reference_number": report.ReferenceNumber,
		"attempt":          attempt,
		"channels":         ChannelStrings(retryable),
		"delay_ms":         delay.Milliseconds(),
	})
	return d.store.Retry(ctx, record.ID, retryable, cause, d.now().Add(delay))
}

func (d *OutboxDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(d.config.InitialBackoff)
	multiplier := math.Pow(2, float64(attempt-1))
	next := time.Duration(base * multiplier)
	if next < 0 {
		return d.config.MaxBackoff
	}
	if next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

func retryCause(report DispatchReport) string {
	parts := make([]string, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		if outcome.Status == OutcomeFailed && outcome.Retryable {
			parts = append(parts, outcome.Channel.String()+": "+outcome.Detail)
		}
	}
	return strings.Join(parts, "; ")
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
