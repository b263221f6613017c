package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

var ErrOutcomeReaderUnavailable = errors.New("core: outcome reader not configured")

const verifyTimeout = 30 * time.Second

type Service struct {
	telemetry
	config          Config
	loggerProvider  LoggerProvider
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	outbox          OutboxStore
	ledger          OutcomeLedger
	reader          OutcomeReader
	supervisor      *Supervisor
	dispatcher      *OutboxDispatcher
	workers         *DispatchWorkers
	enqueuer        JobEnqueuer
	clock           func() time.Time
	idGenerator     func() string

	inflight sync.WaitGroup
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	OutboxStore     OutboxStore
	OutcomeLedger   OutcomeLedger
	OutcomeReader   OutcomeReader
	Supervisor      *Supervisor
	Dispatcher      *OutboxDispatcher
	Workers         *DispatchWorkers
	JobEnqueuer     JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("formrelay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("formrelay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = time.Now
	}
	if builder.idGenerator == nil {
		builder.idGenerator = uuid.NewString
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.outboxStore == nil {
		builder.outboxStore = NewMemoryOutboxStore(finalConfig.Dispatch.ClaimLease)
	}
	if builder.outcomeLedger == nil {
		builder.outcomeLedger = NewMemoryOutcomeLedger(0)
	}
	if builder.outcomeReader == nil {
		if reader, ok := builder.outcomeLedger.(OutcomeReader); ok {
			builder.outcomeReader = reader
		}
	}

	supervisor, err := NewSupervisor(SupervisorConfig{
		Adapters:           builder.channels,
		Sinks:              builder.sinks,
		Logger:             logger,
		Metrics:            builder.metricsRecorder,
		ChannelConcurrency: finalConfig.Dispatch.ChannelConcurrency,
		SinkTimeout:        finalConfig.Dispatch.SinkTimeout,
		Producer:           finalConfig.ServiceName,
		Clock:              builder.clock,
		IDGenerator:        builder.idGenerator,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher, err := NewOutboxDispatcher(builder.outboxStore, supervisor, builder.outcomeLedger, OutboxDispatcherConfig{
		BatchSize:      finalConfig.Dispatch.BatchSize,
		MaxAttempts:    finalConfig.Dispatch.MaxAttempts,
		InitialBackoff: finalConfig.Dispatch.InitialBackoff,
		MaxBackoff:     finalConfig.Dispatch.MaxBackoff,
		Logger:         logger,
		Metrics:        builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	workers, err := NewDispatchWorkers(builder.dequeuer, dispatcher, DispatchWorkersConfig{
		Workers:      finalConfig.Dispatch.Workers,
		PollInterval: finalConfig.Dispatch.PollInterval,
		BatchSize:    finalConfig.Dispatch.BatchSize,
		Hook:         builder.workerHook,
		Logger:       logger,
		Metrics:      builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		telemetry:       newTelemetry(logger, builder.metricsRecorder),
		config:          finalConfig,
		loggerProvider:  provider,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		outbox:          builder.outboxStore,
		ledger:          builder.outcomeLedger,
		reader:          builder.outcomeReader,
		supervisor:      supervisor,
		dispatcher:      dispatcher,
		workers:         workers,
		enqueuer:        builder.enqueuer,
		clock:           builder.clock,
		idGenerator:     builder.idGenerator,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metrics,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		OutboxStore:     s.outbox,
		OutcomeLedger:   s.ledger,
		OutcomeReader:   s.reader,
		Supervisor:      s.supervisor,
		Dispatcher:      s.dispatcher,
		Workers:         s.workers,
		JobEnqueuer:     s.enqueuer,
	}
}

// Accept validates a raw submission, assigns its identifiers and stores it in
// the outbox. No channel I/O happens here.
func (s *Service) Accept(ctx context.Context, raw map[string]any) (receipt Receipt, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = NewInternalError(fmt.Errorf("panic: %v", recovered), "Failed to accept submission")
			receipt = Receipt{}
		}
		status := "accepted"
		if err != nil {
			status = "rejected"
		}
		s.recordCounter(ctx, MetricSubmissionsTotal, 1, map[string]string{"status": status})
		s.observeOperation(ctx, startedAt, "accept", err, fields)
	}()

	submission, err := ValidateSubmission(raw)
	if err != nil {
		fields["missing_fields"] = MissingFields(err)
		err = s.mapError(err)
		return Receipt{}, err
	}

	now := s.clock()
	submission.ID = s.idGenerator()
	submission.ReferenceNumber = ReferenceNumber(now)
	submission.ReceivedAt = now.UTC()
	fields["dispatch_id"] = submission.ID
	fields["reference_number"] = submission.ReferenceNumber

	// The poller leaves the record alone until the live handoff has had its
	// chance.
	nextAttemptAt := now.UTC().Add(s.config.Dispatch.HandoffGrace)
	record := DispatchRecord{
		ID:              submission.ID,
		Submission:      submission,
		PendingChannels: s.supervisor.Channels(),
		Status:          DispatchStatusPending,
		NextAttemptAt:   &nextAttemptAt,
		CreatedAt:       now.UTC(),
	}
	if err = s.outbox.Enqueue(ctx, record); err != nil {
		err = NewInternalError(err, "Failed to store submission")
		return Receipt{}, err
	}

	return Receipt{
		MessageID:       submission.ID,
		ReferenceNumber: submission.ReferenceNumber,
		AcceptedAt:      submission.ReceivedAt,
	}, nil
}

// Handoff schedules delivery of an accepted submission. It never blocks on
// channel I/O and never reports failure: a record that cannot be scheduled
// stays in the outbox for the poller.
func (s *Service) Handoff(ctx context.Context, receipt Receipt) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)
	id := strings.TrimSpace(receipt.MessageID)
	if id == "" {
		return
	}
	fields := map[string]any{
		"dispatch_id":      id,
		"reference_number": receipt.ReferenceNumber,
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(detached, NewDispatchJobMessage(id)); err != nil {
			fields["error"] = err.Error()
			s.recordCounter(detached, MetricHandoffTotal, 1, map[string]string{"mode": "queue", "status": "deferred"})
			s.logWarn(detached, "dispatch handoff deferred to outbox poller", fields)
			return
		}
		s.recordCounter(detached, MetricHandoffTotal, 1, map[string]string{"mode": "queue", "status": "queued"})
		return
	}

	s.recordCounter(detached, MetricHandoffTotal, 1, map[string]string{"mode": "goroutine", "status": "queued"})
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logError(detached, "dispatch goroutine panicked", map[string]any{
					"dispatch_id": id,
					"panic":       fmt.Sprint(recovered),
				})
			}
		}()
		if _, err := s.dispatcher.DispatchOne(detached, id); err != nil {
			fields["error"] = err.Error()
			s.logError(detached, "dispatch failed", fields)
		}
	}()
}

// Submit accepts a submission and hands it off for delivery.
func (s *Service) Submit(ctx context.Context, raw map[string]any) (Receipt, error) {
	receipt, err := s.Accept(ctx, raw)
	if err != nil {
		return Receipt{}, err
	}
	s.Handoff(ctx, receipt)
	return receipt, nil
}

func (s *Service) DispatchPending(ctx context.Context, batchSize int) (stats DispatchStats, err error) {
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "dispatch_pending", err, map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
		})
	}()
	stats, err = s.dispatcher.DispatchPending(ctx, batchSize)
	return stats, err
}

func (s *Service) Outcomes(ctx context.Context, dispatchID string) ([]OutcomeRecord, error) {
	if s == nil || s.reader == nil {
		return nil, s.mapError(ErrOutcomeReaderUnavailable)
	}
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return nil, s.mapError(fmt.Errorf("core: dispatch id is required"))
	}
	records, err := s.reader.ListOutcomes(ctx, dispatchID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return records, nil
}

// Start verifies channel transports in the background and starts the
// dispatch workers.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, adapter := range s.supervisor.Adapters() {
		verifier, ok := adapter.(ChannelVerifier)
		if !ok {
			continue
		}
		channel := adapter.Channel()
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
			defer cancel()
			if err := verifier.Verify(verifyCtx); err != nil {
				s.logWarn(verifyCtx, "channel transport verification failed", map[string]any{
					"channel": channel.String(),
					"error":   err.Error(),
				})
				return
			}
			s.logInfo(verifyCtx, "channel transport verified", map[string]any{"channel": channel.String()})
		}()
	}
	return s.workers.Start(ctx)
}

// Stop stops the workers and waits for detached dispatches until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	workersErr := s.workers.Stop(ctx)
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return workersErr
	case <-ctx.Done():
		return joinErrors(workersErr, ctx.Err())
	}
}

// Wait blocks until every detached dispatch started by Handoff has finished.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.inflight.Wait()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
