package core

import (
	"strings"
	"time"
)

const OutcomeEventType = "formrelay.dispatch.completed.v1"

type EventMeta struct {
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type OutcomeEventChannel struct {
	Channel    string `json:"channel"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Retryable  bool   `json:"retryable"`
	DurationMS int64  `json:"duration_ms"`
}

type OutcomeEventData struct {
	DispatchID      string                `json:"dispatch_id"`
	ReferenceNumber string                `json:"reference_number"`
	Attempt         int                   `json:"attempt"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
	Outcomes        []OutcomeEventChannel `json:"outcomes"`
}

// OutcomeEvent is the envelope published to outcome sinks once a dispatch
// attempt finishes.
type OutcomeEvent struct {
	Meta EventMeta        `json:"meta"`
	Data OutcomeEventData `json:"data"`
}

func NewOutcomeEvent(id string, producer string, report DispatchReport) OutcomeEvent {
	meta := EventMeta{
		ID:   id,
		Time: report.FinishedAt.UTC(),
		Type: OutcomeEventType,
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now().UTC()
	}
	if producer = strings.TrimSpace(producer); producer != "" {
		meta.Producer = &producer
	}
	if dispatchID := strings.TrimSpace(report.DispatchID); dispatchID != "" {
		meta.CorrelationID = &dispatchID
	}

	outcomes := make([]OutcomeEventChannel, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		outcomes = append(outcomes, OutcomeEventChannel{
			Channel:    outcome.Channel.String(),
			Status:     string(outcome.Status),
			Detail:     outcome.Detail,
			Retryable:  outcome.Retryable,
			DurationMS: outcome.Duration.Milliseconds(),
		})
	}
	return OutcomeEvent{
		Meta: meta,
		Data: OutcomeEventData{
			DispatchID:      report.DispatchID,
			ReferenceNumber: report.ReferenceNumber,
			Attempt:         report.Attempt,
			StartedAt:       report.StartedAt.UTC(),
			FinishedAt:      report.FinishedAt.UTC(),
			Outcomes:        outcomes,
		},
	}
}
