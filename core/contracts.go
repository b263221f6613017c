package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ChannelAdapter delivers a submission over one outbound channel. Deliver must
// not panic past its boundary and must bound every network wait.
type ChannelAdapter interface {
	Channel() Channel
	Deliver(ctx context.Context, submission Submission) Outcome
}

// ChannelVerifier is implemented by adapters that can probe their transport
// once at startup.
type ChannelVerifier interface {
	Verify(ctx context.Context) error
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, record DispatchRecord) error
	Claim(ctx context.Context, id string) (DispatchRecord, bool, error)
	ClaimDue(ctx context.Context, limit int) ([]DispatchRecord, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, pending []Channel, cause string, nextAttemptAt time.Time) error
}

type OutcomeLedger interface {
	Record(ctx context.Context, report DispatchReport) error
}

type OutcomeReader interface {
	ListOutcomes(ctx context.Context, dispatchID string) ([]OutcomeRecord, error)
}

type OutcomeSink interface {
	Publish(ctx context.Context, event OutcomeEvent) error
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
