package core

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

func (c Channel) String() string {
	return string(c)
}

type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// PhonePlaceholder is rendered downstream whenever a submission has no phone.
const PhonePlaceholder = "Not provided"

type Submission struct {
	ID              string
	Name            string
	Email           string
	Phone           *string
	Subject         string
	Message         string
	ReferenceNumber string
	ReceivedAt      time.Time
}

func (s Submission) PhoneOrPlaceholder() string {
	if s.Phone == nil {
		return PhonePlaceholder
	}
	if phone := strings.TrimSpace(*s.Phone); phone != "" {
		return phone
	}
	return PhonePlaceholder
}

func (s Submission) Fields() map[string]any {
	fields := map[string]any{
		"name":            s.Name,
		"email":           s.Email,
		"subject":         s.Subject,
		"message":         s.Message,
		"referenceNumber": s.ReferenceNumber,
	}
	if s.Phone != nil {
		fields["phone"] = *s.Phone
	}
	return fields
}

// Receipt is what the caller gets back once a submission has been accepted.
type Receipt struct {
	MessageID       string
	ReferenceNumber string
	AcceptedAt      time.Time
}

type Outcome struct {
	Channel   Channel
	Status    OutcomeStatus
	Detail    string
	Retryable bool
	Duration  time.Duration
	Metadata  map[string]any
}

func SentOutcome(channel Channel, detail string) Outcome {
	return Outcome{Channel: channel, Status: OutcomeSent, Detail: detail}
}

func SkippedOutcome(channel Channel, detail string) Outcome {
	return Outcome{Channel: channel, Status: OutcomeSkipped, Detail: detail}
}

func FailedOutcome(channel Channel, detail string, retryable bool) Outcome {
	return Outcome{Channel: channel, Status: OutcomeFailed, Detail: detail, Retryable: retryable}
}

type DispatchReport struct {
	DispatchID      string
	ReferenceNumber string
	Attempt         int
	Outcomes        []Outcome
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (r DispatchReport) Outcome(channel Channel) (Outcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.Channel == channel {
			return outcome, true
		}
	}
	return Outcome{}, false
}

// RetryableChannels lists channels whose failure may succeed on a later attempt.
func (r DispatchReport) RetryableChannels() []Channel {
	out := make([]Channel, 0, len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		if outcome.Status == OutcomeFailed && outcome.Retryable {
			out = append(out, outcome.Channel)
		}
	}
	return out
}

type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusProcessing DispatchStatus = "processing"
	DispatchStatusDelivered  DispatchStatus = "delivered"
	DispatchStatusFailed     DispatchStatus = "failed"
)

type DispatchRecord struct {
	ID              string
	Submission      Submission
	PendingChannels []Channel
	Status          DispatchStatus
	Attempts        int
	NextAttemptAt   *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OutcomeRecord struct {
	ID              string
	DispatchID      string
	ReferenceNumber string
	Attempt         int
	Channel         Channel
	Status          OutcomeStatus
	Detail          string
	Retryable       bool
	DurationMS      int64
	Metadata        map[string]any
	CreatedAt       time.Time
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

func ParseChannels(values []string) []Channel {
	out := make([]Channel, 0, len(values))
	seen := make(map[Channel]struct{}, len(values))
	for _, value := range values {
		channel := Channel(strings.ToLower(strings.TrimSpace(value)))
		if channel == "" {
			continue
		}
		if _, ok := seen[channel]; ok {
			continue
		}
		seen[channel] = struct{}{}
		out = append(out, channel)
	}
	return out
}

func ChannelStrings(channels []Channel) []string {
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		out = append(out, string(channel))
	}
	return out
}
