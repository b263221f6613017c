package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	"github.com/goliatone/go-formrelay/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultTimeout = 10 * time.Second

const defaultResponseBodyLimit int64 = 64 << 10

type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	// MaxResponseBodyBytes caps how much of the response is read for
	// classification.
	MaxResponseBodyBytes int64
}

// Payload is the flat JSON document posted to the logging endpoint.
type Payload struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Subject         string `json:"subject"`
	Message         string `json:"message"`
	ReferenceNumber string `json:"referenceNumber"`
	Timestamp       string `json:"timestamp"`
}

func NewPayload(submission core.Submission) Payload {
	receivedAt := submission.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return Payload{
		Name:            submission.Name,
		Email:           submission.Email,
		Phone:           submission.PhoneOrPlaceholder(),
		Subject:         submission.Subject,
		Message:         submission.Message,
		ReferenceNumber: submission.ReferenceNumber,
		Timestamp:       receivedAt.UTC().Format(time.RFC3339),
	}
}

type Option func(*Adapter)

func WithTransport(t core.TransportAdapter) Option {
	return func(a *Adapter) {
		if t != nil {
			a.transport = t
		}
	}
}

// WithSigner signs every request before it is sent.
func WithSigner(signer core.RequestSigner) Option {
	return func(a *Adapter) {
		a.signer = signer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(a *Adapter) {
		a.logger = glog.Ensure(logger)
	}
}

// Adapter posts submissions to a spreadsheet-logging endpoint and turns its
// loosely typed response into an outcome.
type Adapter struct {
	config    Config
	transport core.TransportAdapter
	signer    core.RequestSigner
	logger    core.Logger
}

func New(config Config, opts ...Option) *Adapter {
	config.URL = strings.TrimSpace(config.URL)
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxResponseBodyBytes <= 0 {
		config.MaxResponseBodyBytes = defaultResponseBodyLimit
	}
	adapter := &Adapter{
		config:    config,
		transport: transport.NewHTTPTransport(nil),
		logger:    glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

func (*Adapter) Channel() core.Channel {
	return core.ChannelWebhook
}

func (a *Adapter) Configured() bool {
	return a != nil && a.config.URL != ""
}

func (a *Adapter) Deliver(ctx context.Context, submission core.Submission) core.Outcome {
	if !a.Configured() {
		a.logger.Warn("webhook channel skipped", "reason", "url not configured", "reference_number", submission.ReferenceNumber)
		return core.SkippedOutcome(core.ChannelWebhook, "webhook url not configured")
	}

	body, err := json.Marshal(NewPayload(submission))
	if err != nil {
		return core.FailedOutcome(core.ChannelWebhook, fmt.Sprintf("encode payload: %v", err), false)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for key, value := range a.config.Headers {
		headers[key] = value
	}
	req := core.TransportRequest{
		Method:               http.MethodPost,
		URL:                  a.config.URL,
		Headers:              headers,
		Body:                 body,
		Timeout:              a.config.Timeout,
		MaxResponseBodyBytes: a.config.MaxResponseBodyBytes,
		Metadata:             map[string]any{"reference_number": submission.ReferenceNumber},
	}
	if a.signer != nil {
		if err := a.signer.Sign(ctx, &req); err != nil {
			a.logger.Error("webhook signing failed", "reference_number", submission.ReferenceNumber, "error", err.Error())
			return core.FailedOutcome(core.ChannelWebhook, "sign request: "+err.Error(), false)
		}
	}
	res, err := a.transport.Do(ctx, req)
	if err != nil {
		return a.transportFailure(submission, err)
	}

	classification := Classify(res.StatusCode, res.Body)
	decision := Decide(classification)
	outcome := core.Outcome{
		Channel:   core.ChannelWebhook,
		Status:    decision.Status,
		Detail:    decision.Detail,
		Retryable: decision.Retryable,
		Metadata: map[string]any{
			"status_code": res.StatusCode,
			"kind":        string(classification.Kind),
			"rule":        decision.Rule,
		},
	}
	if outcome.Status == core.OutcomeFailed {
		a.logger.Error("webhook delivery failed",
			"reference_number", submission.ReferenceNumber,
			"status_code", res.StatusCode,
			"kind", string(classification.Kind),
			"rule", decision.Rule,
			"detail", decision.Detail,
		)
	}
	return outcome
}

func (a *Adapter) transportFailure(submission core.Submission, err error) core.Outcome {
	detail := "transport error: " + err.Error()
	if transport.IsTimeout(err) {
		detail = fmt.Sprintf("timed out after %s", a.config.Timeout)
	}
	a.logger.Error("webhook delivery failed",
		"reference_number", submission.ReferenceNumber,
		"timeout", transport.IsTimeout(err),
		"error", err.Error(),
	)
	outcome := core.FailedOutcome(core.ChannelWebhook, detail, true)
	outcome.Metadata = map[string]any{"timeout": transport.IsTimeout(err)}
	return outcome
}

var _ core.ChannelAdapter = (*Adapter)(nil)
