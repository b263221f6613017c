package formrelay

import "github.com/goliatone/go-formrelay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Submission = core.Submission
type Receipt = core.Receipt
type Outcome = core.Outcome
type OutcomeRecord = core.OutcomeRecord
type OutcomeEvent = core.OutcomeEvent
type DispatchStats = core.DispatchStats

type ChannelAdapter = core.ChannelAdapter
type OutcomeSink = core.OutcomeSink
type OutboxStore = core.OutboxStore
type OutcomeLedger = core.OutcomeLedger
type OutcomeReader = core.OutcomeReader

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithOutboxStore     = core.WithOutboxStore
	WithOutcomeLedger   = core.WithOutcomeLedger
	WithOutcomeReader   = core.WithOutcomeReader
	WithChannels        = core.WithChannels
	WithOutcomeSinks    = core.WithOutcomeSinks
	WithJobEnqueuer     = core.WithJobEnqueuer
	WithJobDequeuer     = core.WithJobDequeuer
	WithJobWorkerHook   = core.WithJobWorkerHook
	WithClock           = core.WithClock
	WithIDGenerator     = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
