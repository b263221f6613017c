package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	outboxStore     OutboxStore
	outcomeLedger   OutcomeLedger
	outcomeReader   OutcomeReader
	channels        []ChannelAdapter
	sinks           []OutcomeSink
	enqueuer        JobEnqueuer
	dequeuer        JobDequeuer
	workerHook      JobWorkerHook
	clock           func() time.Time
	idGenerator     func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithOutboxStore(store OutboxStore) Option {
	return func(b *serviceBuilder) {
		b.outboxStore = store
	}
}

// WithOutcomeLedger sets where dispatch reports are recorded. When the ledger
// also implements OutcomeReader it is used for lookups too.
func WithOutcomeLedger(ledger OutcomeLedger) Option {
	return func(b *serviceBuilder) {
		b.outcomeLedger = ledger
	}
}

func WithOutcomeReader(reader OutcomeReader) Option {
	return func(b *serviceBuilder) {
		b.outcomeReader = reader
	}
}

func WithChannels(channels ...ChannelAdapter) Option {
	return func(b *serviceBuilder) {
		for _, channel := range channels {
			if channel != nil {
				b.channels = append(b.channels, channel)
			}
		}
	}
}

func WithOutcomeSinks(sinks ...OutcomeSink) Option {
	return func(b *serviceBuilder) {
		for _, sink := range sinks {
			if sink != nil {
				b.sinks = append(b.sinks, sink)
			}
		}
	}
}

// WithJobEnqueuer routes handoffs through a queue instead of one goroutine
// per dispatch.
func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

// WithJobDequeuer starts dispatch workers consuming handoff jobs when the
// service starts.
func WithJobDequeuer(dequeuer JobDequeuer) Option {
	return func(b *serviceBuilder) {
		b.dequeuer = dequeuer
	}
}

func WithJobWorkerHook(hook JobWorkerHook) Option {
	return func(b *serviceBuilder) {
		b.workerHook = hook
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("formrelay", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           time.Now,
		idGenerator:     uuid.NewString,
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config and runtime overrides in
// that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := layerMap{includeZero: includeZero, values: map[string]any{}}
	layer.putString("service_name", cfg.ServiceName)
	layer.putString("environment", cfg.Environment)

	httpLayer := layer.child()
	httpLayer.putString("addr", cfg.HTTP.Addr)
	httpLayer.putDuration("shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	layer.putSection("http", httpLayer)

	email := layer.child()
	email.putString("host", cfg.Email.Host)
	email.putInt("port", cfg.Email.Port)
	email.putBool("secure", cfg.Email.Secure)
	email.putString("username", cfg.Email.Username)
	email.putString("password", cfg.Email.Password)
	email.putString("from", cfg.Email.From)
	email.putString("recipient", cfg.Email.Recipient)
	email.putDuration("timeout", cfg.Email.Timeout)
	layer.putSection("email", email)

	webhook := layer.child()
	webhook.putString("url", cfg.Webhook.URL)
	webhook.putDuration("timeout", cfg.Webhook.Timeout)
	layer.putSection("webhook", webhook)

	dispatch := layer.child()
	dispatch.putInt("workers", cfg.Dispatch.Workers)
	dispatch.putInt("queue_capacity", cfg.Dispatch.QueueCapacity)
	dispatch.putInt("channel_concurrency", cfg.Dispatch.ChannelConcurrency)
	dispatch.putDuration("poll_interval", cfg.Dispatch.PollInterval)
	dispatch.putDuration("handoff_grace", cfg.Dispatch.HandoffGrace)
	dispatch.putInt("batch_size", cfg.Dispatch.BatchSize)
	dispatch.putInt("max_attempts", cfg.Dispatch.MaxAttempts)
	dispatch.putDuration("initial_backoff", cfg.Dispatch.InitialBackoff)
	dispatch.putDuration("max_backoff", cfg.Dispatch.MaxBackoff)
	dispatch.putDuration("claim_lease", cfg.Dispatch.ClaimLease)
	layer.putSection("dispatch", dispatch)

	database := layer.child()
	database.putString("driver", cfg.Database.Driver)
	database.putString("dsn", cfg.Database.DSN)
	database.putBool("debug", cfg.Database.Debug)
	layer.putSection("database", database)

	kafka := layer.child()
	if includeZero || len(cfg.Kafka.Brokers) > 0 {
		kafka.values["brokers"] = append([]string(nil), cfg.Kafka.Brokers...)
	}
	kafka.putString("topic", cfg.Kafka.Topic)
	layer.putSection("kafka", kafka)

	rabbit := layer.child()
	rabbit.putString("url", cfg.RabbitMQ.URL)
	rabbit.putString("exchange", cfg.RabbitMQ.Exchange)
	rabbit.putString("routing_key", cfg.RabbitMQ.RoutingKey)
	layer.putSection("rabbitmq", rabbit)

	metrics := layer.child()
	metrics.putBool("disabled", cfg.Metrics.Disabled)
	layer.putSection("metrics", metrics)

	return layer.values
}

// layerMap collects the non-zero fields of a config section. Boolean false is
// indistinguishable from unset, so a later layer can only switch flags on.
type layerMap struct {
	includeZero bool
	values      map[string]any
}

func (l layerMap) child() layerMap {
	return layerMap{includeZero: l.includeZero, values: map[string]any{}}
}

func (l layerMap) putString(key, value string) {
	if l.includeZero || strings.TrimSpace(value) != "" {
		l.values[key] = value
	}
}

func (l layerMap) putInt(key string, value int) {
	if l.includeZero || value != 0 {
		l.values[key] = value
	}
}

func (l layerMap) putBool(key string, value bool) {
	if l.includeZero || value {
		l.values[key] = value
	}
}

func (l layerMap) putDuration(key string, value time.Duration) {
	if l.includeZero || value != 0 {
		l.values[key] = value
	}
}

func (l layerMap) putSection(key string, section layerMap) {
	if l.includeZero || len(section.values) > 0 {
		l.values[key] = section.values
	}
}
