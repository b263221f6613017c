package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultSinkTimeout = 5 * time.Second

type SupervisorConfig struct {
	Adapters           []ChannelAdapter
	Sinks              []OutcomeSink
	Logger             Logger
	Metrics            MetricsRecorder
	ChannelConcurrency int
	// SinkTimeout bounds each sink publish. Defaults to DefaultSinkTimeout.
	SinkTimeout time.Duration
	Producer    string
	Clock       func() time.Time
	IDGenerator func() string
}

// Supervisor fans a submission out to every channel adapter concurrently.
// Adapters never share a cancellation scope, so one slow or failing channel
// cannot cut another short.
type Supervisor struct {
	telemetry
	adapters    map[Channel]ChannelAdapter
	order       []Channel
	limits      map[Channel]*semaphore.Weighted
	sinks       []OutcomeSink
	sinkTimeout time.Duration
	producer    string
	now         func() time.Time
	idGenerator func() string
}

func NewSupervisor(config SupervisorConfig) (*Supervisor, error) {
	s := &Supervisor{
		telemetry:   newTelemetry(config.Logger, config.Metrics),
		adapters:    map[Channel]ChannelAdapter{},
		limits:      map[Channel]*semaphore.Weighted{},
		sinks:       append([]OutcomeSink(nil), config.Sinks...),
		sinkTimeout: config.SinkTimeout,
		producer:    strings.TrimSpace(config.Producer),
		now:         config.Clock,
		idGenerator: config.IDGenerator,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.idGenerator == nil {
		s.idGenerator = uuid.NewString
	}
	if s.sinkTimeout <= 0 {
		s.sinkTimeout = DefaultSinkTimeout
	}
	if s.producer == "" {
		s.producer = "formrelay"
	}
	for _, adapter := range config.Adapters {
		if adapter == nil {
			continue
		}
		channel := adapter.Channel()
		if strings.TrimSpace(channel.String()) == "" {
			return nil, fmt.Errorf("core: channel adapter %T has no channel name", adapter)
		}
		if _, exists := s.adapters[channel]; exists {
			return nil, fmt.Errorf("core: channel %q registered twice", channel)
		}
		s.adapters[channel] = adapter
		s.order = append(s.order, channel)
		if config.ChannelConcurrency > 0 {
			s.limits[channel] = semaphore.NewWeighted(int64(config.ChannelConcurrency))
		}
	}
	return s, nil
}

func (s *Supervisor) Channels() []Channel {
	if s == nil {
		return nil
	}
	return append([]Channel(nil), s.order...)
}

func (s *Supervisor) Adapters() []ChannelAdapter {
	if s == nil {
		return nil
	}
	out := make([]ChannelAdapter, 0, len(s.order))
	for _, channel := range s.order {
		out = append(out, s.adapters[channel])
	}
	return out
}

// Dispatch delivers a submission on the given channels, or on every
// registered channel when none are given.
func (s *Supervisor) Dispatch(ctx context.Context, submission Submission, channels []Channel) DispatchReport {
	return s.DispatchRecord(ctx, DispatchRecord{
		ID:              submission.ID,
		Submission:      submission,
		PendingChannels: channels,
	})
}

func (s *Supervisor) DispatchRecord(ctx context.Context, record DispatchRecord) DispatchReport {
	if ctx == nil {
		ctx = context.Background()
	}
	channels := record.PendingChannels
	if len(channels) == 0 {
		channels = s.Channels()
	}
	attempt := record.Attempts
	if attempt < 1 {
		attempt = 1
	}

	report := DispatchReport{
		DispatchID:      record.ID,
		ReferenceNumber: record.Submission.ReferenceNumber,
		Attempt:         attempt,
		Outcomes:        make([]Outcome, len(channels)),
		StartedAt:       s.now(),
	}

	var group errgroup.Group
	for i, channel := range channels {
		group.Go(func() error {
			report.Outcomes[i] = s.runChannel(ctx, channel, record.Submission)
			return nil
		})
	}
	_ = group.Wait()
	report.FinishedAt = s.now()

	s.recordReport(ctx, report)
	s.publish(ctx, report)
	return report
}

func (s *Supervisor) runChannel(ctx context.Context, channel Channel, submission Submission) (outcome Outcome) {
	startedAt := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logError(ctx, "channel adapter panicked", map[string]any{
				"channel":          channel.String(),
				"reference_number": submission.ReferenceNumber,
				"panic":            fmt.Sprint(recovered),
				"stack":            string(debug.Stack()),
			})
			outcome = FailedOutcome(channel, fmt.Sprintf("panic: %v", recovered), false)
		}
		outcome.Channel = channel
		outcome.Duration = time.Since(startedAt)
		tags := map[string]string{"channel": channel.String(), "status": string(outcome.Status)}
		s.recordCounter(ctx, MetricChannelTotal, 1, tags)
		s.recordHistogram(ctx, MetricChannelDurationMS, float64(outcome.Duration.Milliseconds()), tags)
	}()

	adapter, ok := s.adapters[channel]
	if !ok || adapter == nil {
		return SkippedOutcome(channel, "channel not configured")
	}
	if limit := s.limits[channel]; limit != nil {
		if err := limit.Acquire(ctx, 1); err != nil {
			return FailedOutcome(channel, "dispatch cancelled before channel slot was available", true)
		}
		defer limit.Release(1)
	}
	outcome = adapter.Deliver(ctx, submission)
	if outcome.Status == "" {
		outcome = FailedOutcome(channel, "channel returned no outcome", false)
	}
	return outcome
}

// recordReport emits the single terminal log record of a dispatch attempt.
func (s *Supervisor) recordReport(ctx context.Context, report DispatchReport) {
	status := dispatchReportStatus(report)
	fields := map[string]any{
		"dispatch_id":      report.DispatchID,
		"reference_number": report.ReferenceNumber,
		"attempt":          report.Attempt,
		"status":           status,
		"duration_ms":      report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}
	outcomes := make([]map[string]any, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		key := outcome.Channel.String()
		fields[key+"_status"] = string(outcome.Status)
		if outcome.Detail != "" {
			fields[key+"_detail"] = outcome.Detail
		}
		outcomes = append(outcomes, map[string]any{
			"channel":   key,
			"status":    string(outcome.Status),
			"detail":    outcome.Detail,
			"retryable": outcome.Retryable,
		})
	}
	fields["outcomes"] = outcomes

	tags := map[string]string{"status": status}
	s.recordCounter(ctx, MetricDispatchTotal, 1, tags)
	s.recordHistogram(ctx, MetricDispatchDurationMS, float64(report.FinishedAt.Sub(report.StartedAt).Milliseconds()), tags)

	if status == "delivered" {
		s.logInfo(ctx, "dispatch completed", fields)
		return
	}
	s.logWarn(ctx, "dispatch completed", fields)
}

func (s *Supervisor) publish(ctx context.Context, report DispatchReport) {
	if len(s.sinks) == 0 {
		return
	}
	event := NewOutcomeEvent(s.idGenerator(), s.producer, report)
	for _, sink := range s.sinks {
		if sink == nil {
			continue
		}
		if err := s.publishTo(ctx, sink, event); err != nil {
			s.recordCounter(ctx, MetricSinkFailuresTotal, 1, map[string]string{"sink": fmt.Sprintf("%T", sink)})
			s.logWarn(ctx, "outcome sink publish failed", map[string]any{
				"dispatch_id":      report.DispatchID,
				"reference_number": report.ReferenceNumber,
				"sink":             fmt.Sprintf("%T", sink),
				"error":            err.Error(),
			})
		}
	}
}

// publishTo bounds one sink call so a stalled broker cannot hold the claim
// past its lease. A sink that ignores its context is abandoned at the
// deadline.
func (s *Supervisor) publishTo(ctx context.Context, sink OutcomeSink, event OutcomeEvent) error {
	publishCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- fmt.Errorf("core: sink %T panicked: %v", sink, recovered)
			}
		}()
		done <- sink.Publish(publishCtx, event)
	}()
	select {
	case err := <-done:
		return err
	case <-publishCtx.Done():
		return fmt.Errorf("core: sink %T publish: %w", sink, publishCtx.Err())
	}
}

func dispatchReportStatus(report DispatchReport) string {
	failed := 0
	for _, outcome := range report.Outcomes {
		if outcome.Status == OutcomeFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "delivered"
	case failed == len(report.Outcomes):
		return "failed"
	default:
		return "partial"
	}
}
