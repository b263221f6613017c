package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
)

type Option func(*Adapter)

func WithTransport(transport Transport) Option {
	return func(a *Adapter) {
		if transport != nil {
			a.transport = transport
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(a *Adapter) {
		a.logger = glog.Ensure(logger)
	}
}

// Adapter sends a forward message to the site owner and a confirmation to the
// submitter. Send failures end in the outcome and the log, never in a panic
// or an error returned to the caller.
type Adapter struct {
	config    core.EmailConfig
	transport Transport
	logger    core.Logger
}

func New(config core.EmailConfig, opts ...Option) *Adapter {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	config.From = strings.TrimSpace(config.From)
	if config.From == "" {
		config.From = strings.TrimSpace(config.Username)
	}
	config.Recipient = strings.TrimSpace(config.Recipient)
	if config.Recipient == "" {
		config.Recipient = config.From
	}
	adapter := &Adapter{
		config: config,
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	if adapter.transport == nil && config.Configured() {
		adapter.transport = NewSMTPTransport(config)
	}
	return adapter
}

func (*Adapter) Channel() core.Channel {
	return core.ChannelEmail
}

func (a *Adapter) Configured() bool {
	return a != nil && a.config.Configured() && a.transport != nil
}

// Verify probes the mail transport once. Callers log the result; it never
// gates submissions.
func (a *Adapter) Verify(ctx context.Context) error {
	if !a.Configured() {
		return nil
	}
	return a.transport.Verify(ctx)
}

type sendResult struct {
	kind     EnvelopeKind
	err      error
	duration time.Duration
}

func (a *Adapter) Deliver(ctx context.Context, submission core.Submission) core.Outcome {
	if !a.Configured() {
		a.logger.Warn("email channel skipped", "reason", "smtp transport not configured", "reference_number", submission.ReferenceNumber)
		return core.SkippedOutcome(core.ChannelEmail, "smtp transport not configured")
	}

	forward, err := ComposeForward(a.config.From, a.config.Recipient, submission)
	if err != nil {
		return core.FailedOutcome(core.ChannelEmail, fmt.Sprintf("compose forward: %v", err), false)
	}
	if forward.ReplyTo == "" && strings.TrimSpace(submission.Email) != "" {
		a.logger.Warn("email forward sent without reply-to", "reason", "submitter address does not parse", "reference_number", submission.ReferenceNumber)
	}
	confirmation, err := ComposeConfirmation(a.config.From, submission)
	if err != nil {
		return core.FailedOutcome(core.ChannelEmail, fmt.Sprintf("compose confirmation: %v", err), false)
	}

	envelopes := []Envelope{forward, confirmation}
	results := make([]sendResult, len(envelopes))
	var group errgroup.Group
	for i, envelope := range envelopes {
		group.Go(func() error {
			results[i] = a.send(ctx, submission, envelope)
			return nil
		})
	}
	_ = group.Wait()

	return summarize(results)
}

func (a *Adapter) send(ctx context.Context, submission core.Submission, envelope Envelope) (result sendResult) {
	startedAt := time.Now()
	result.kind = envelope.Kind
	defer func() {
		if recovered := recover(); recovered != nil {
			result.err = fmt.Errorf("email: %s send panicked: %v", envelope.Kind, recovered)
		}
		result.duration = time.Since(startedAt)
		if result.err != nil {
			args := []any{
				"reference_number", submission.ReferenceNumber,
				"message", string(envelope.Kind),
				"error", result.err.Error(),
			}
			for key, value := range Diagnose(result.err).Fields() {
				args = append(args, key, value)
			}
			a.logger.Error("email send failed", args...)
		}
	}()
	result.err = a.transport.Send(ctx, envelope)
	return result
}

// summarize folds both sends into one outcome. A retry resends both messages,
// so it is only allowed when nothing was delivered and every failure was
// temporary.
func summarize(results []sendResult) core.Outcome {
	failures := make([]string, 0, len(results))
	delivered := 0
	allTemporary := true
	metadata := map[string]any{}
	for _, result := range results {
		if result.err == nil {
			delivered++
			metadata[string(result.kind)] = "sent"
			continue
		}
		diag := Diagnose(result.err)
		if !diag.Temporary {
			allTemporary = false
		}
		metadata[string(result.kind)] = "failed"
		if diag.ErrorCode != 0 {
			metadata[string(result.kind)+"_error_code"] = diag.ErrorCode
		}
		failures = append(failures, fmt.Sprintf("%s: %v", result.kind, result.err))
	}
	if len(failures) == 0 {
		outcome := core.SentOutcome(core.ChannelEmail, "forward and confirmation sent")
		outcome.Metadata = metadata
		return outcome
	}
	retryable := delivered == 0 && allTemporary
	outcome := core.FailedOutcome(core.ChannelEmail, strings.Join(failures, "; "), retryable)
	outcome.Metadata = metadata
	return outcome
}

var (
	_ core.ChannelAdapter  = (*Adapter)(nil)
	_ core.ChannelVerifier = (*Adapter)(nil)
)
