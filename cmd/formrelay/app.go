package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	formrelay "github.com/goliatone/go-formrelay"
	"github.com/goliatone/go-formrelay/adapters/gojob"
	"github.com/goliatone/go-formrelay/adapters/gologger"
	"github.com/goliatone/go-formrelay/adapters/kafka"
	"github.com/goliatone/go-formrelay/adapters/prometheus"
	"github.com/goliatone/go-formrelay/adapters/rabbitmq"
	"github.com/goliatone/go-formrelay/core"
	sqlstore "github.com/goliatone/go-formrelay/store/sql"
)

// app holds the assembled service and everything that must be closed with
// it.
type app struct {
	config   core.Config
	logger   glog.Logger
	provider glog.LoggerProvider
	service  *core.Service
	reader   core.OutcomeReader
	metrics  *prometheus.Recorder
	queue    *gojob.MemoryQueue
	closers  []func() error
}

func (a *app) metricsHandler() http.Handler {
	if a == nil || a.metrics == nil {
		return nil
	}
	return a.metrics.Handler()
}

// Outcomes serves lookups through the cached reader when one is wired.
func (a *app) Outcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error) {
	if a.reader == nil {
		return a.service.Outcomes(ctx, dispatchID)
	}
	records, err := a.reader.ListOutcomes(ctx, strings.TrimSpace(dispatchID))
	if err != nil {
		return nil, core.MapError(err)
	}
	return records, nil
}

func (a *app) Accept(ctx context.Context, raw map[string]any) (core.Receipt, error) {
	return a.service.Accept(ctx, raw)
}

func (a *app) Handoff(ctx context.Context, receipt core.Receipt) {
	a.service.Handoff(ctx, receipt)
}

func (a *app) DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error) {
	return a.service.DispatchPending(ctx, batchSize)
}

func (a *app) Close() error {
	if a == nil {
		return nil
	}
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadConfig(ctx context.Context, globals *Globals) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(core.NewEnvConfigLoader(globals.EnvFile...))
	return provider.Load(ctx, core.DefaultConfig())
}

// buildApp wires stores, channels, sinks, the handoff queue and metrics into
// one service.
func buildApp(ctx context.Context, globals *Globals, out io.Writer) (*app, error) {
	cfg, err := loadConfig(ctx, globals)
	if err != nil {
		return nil, fmt.Errorf("formrelay: load config: %w", err)
	}
	provider, logger := gologger.Bootstrap(out, globals.LogLevel, cfg.ServiceName)
	a := &app{config: cfg, logger: logger, provider: provider}

	opts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithChannels(formrelay.DefaultChannels(cfg, logger)...),
	}

	if !cfg.Metrics.Disabled {
		a.metrics = prometheus.New(prometheus.WithNamespace("app"))
		opts = append(opts, core.WithMetricsRecorder(a.metrics))
	}

	storeOpts, err := a.wireStores(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts = append(opts, storeOpts...)

	sinkOpts, err := a.wireSinks(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts = append(opts, sinkOpts...)

	jobLogger := gologger.JobLogger("formrelay.queue", provider, logger)
	a.queue = gojob.NewMemoryQueue(cfg.Dispatch.QueueCapacity, gojob.WithQueueLogger(jobLogger))
	opts = append(opts,
		core.WithJobEnqueuer(gojob.NewEnqueuerAdapter(a.queue)),
		core.WithJobDequeuer(gojob.NewDequeuerAdapter(a.queue, gojob.RetryPolicy{
			MaxAttempts:     cfg.Dispatch.MaxAttempts,
			BaseDelay:       cfg.Dispatch.InitialBackoff,
			MaxDelay:        cfg.Dispatch.MaxBackoff,
			DeadLetterOnMax: true,
		})),
		core.WithJobWorkerHook(gojob.NewLoggingHook(jobLogger)),
	)

	svc, err := core.NewService(cfg, opts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("formrelay: new service: %w", err)
	}
	a.service = svc
	return a, nil
}

func (a *app) wireStores(ctx context.Context, cfg core.Config) ([]core.Option, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", "memory":
		a.logger.Warn("using in-memory outbox; pending dispatches are lost on restart")
		return nil, nil
	}
	client, err := sqlstore.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return a.sqlStoreOptions(client, cfg)
}

func (a *app) sqlStoreOptions(client *persistence.Client, cfg core.Config) ([]core.Option, error) {
	stores, err := sqlstore.NewStores(client, sqlstore.WithClaimLease(cfg.Dispatch.ClaimLease))
	if err != nil {
		return nil, err
	}
	cache, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("formrelay: outcome cache: %w", err)
	}
	opts, reader, err := stores.ServiceOptions(cache)
	if err != nil {
		return nil, err
	}
	a.reader = reader
	return opts, nil
}

func (a *app) wireSinks(cfg core.Config) ([]core.Option, error) {
	sinks := []core.OutcomeSink{}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) != "" {
		sink, err := kafka.NewSink(kafka.NewWriter(cfg.Kafka))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
		a.logger.Info("kafka outcome sink enabled", "topic", cfg.Kafka.Topic)
	}
	if strings.TrimSpace(cfg.RabbitMQ.URL) != "" {
		sink, err := rabbitmq.Dial(cfg.RabbitMQ.URL, rabbitmq.Config{
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Producer:   cfg.ServiceName,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
		a.logger.Info("rabbitmq outcome sink enabled", "exchange", cfg.RabbitMQ.Exchange)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return []core.Option{core.WithOutcomeSinks(sinks...)}, nil
}
