package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	"github.com/uptrace/bun"
)

type dispatchRecord struct {
	bun.BaseModel `bun:"table:formrelay_dispatches,alias:fd"`

	ID              string         `bun:"id,pk"`
	ReferenceNumber string         `bun:"reference_number,notnull"`
	Submission      map[string]any `bun:"submission,type:jsonb,notnull"`
	PendingChannels []string       `bun:"pending_channels,type:jsonb,notnull"`
	Status          string         `bun:"status,notnull"`
	Attempts        int            `bun:"attempts,notnull"`
	NextAttemptAt   *time.Time     `bun:"next_attempt_at,nullzero"`
	ClaimedAt       *time.Time     `bun:"claimed_at,nullzero"`
	LastError       string         `bun:"last_error,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outcomeRecord struct {
	bun.BaseModel `bun:"table:formrelay_outcomes,alias:fo"`

	ID              string         `bun:"id,pk"`
	DispatchID      string         `bun:"dispatch_id,notnull"`
	ReferenceNumber string         `bun:"reference_number,notnull"`
	Attempt         int            `bun:"attempt,notnull"`
	Channel         string         `bun:"channel,notnull"`
	Status          string         `bun:"status,notnull"`
	Detail          string         `bun:"detail,notnull"`
	Retryable       bool           `bun:"retryable,notnull"`
	DurationMS      int64          `bun:"duration_ms,notnull"`
	Metadata        map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newDispatchRecord(record core.DispatchRecord, now time.Time) *dispatchRecord {
	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = now
	}
	return &dispatchRecord{
		ID:              strings.TrimSpace(record.ID),
		ReferenceNumber: record.Submission.ReferenceNumber,
		Submission:      submissionToDocument(record.Submission),
		PendingChannels: core.ChannelStrings(record.PendingChannels),
		Status:          string(core.DispatchStatusPending),
		Attempts:        0,
		NextAttemptAt:   cloneTimePointer(record.NextAttemptAt),
		LastError:       "",
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
}

func (r dispatchRecord) toDomain() core.DispatchRecord {
	return core.DispatchRecord{
		ID:              r.ID,
		Submission:      submissionFromDocument(r.Submission),
		PendingChannels: core.ParseChannels(r.PendingChannels),
		Status:          core.DispatchStatus(r.Status),
		Attempts:        r.Attempts,
		NextAttemptAt:   cloneTimePointer(r.NextAttemptAt),
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func newOutcomeRecord(record core.OutcomeRecord) *outcomeRecord {
	return &outcomeRecord{
		ID:              record.ID,
		DispatchID:      record.DispatchID,
		ReferenceNumber: record.ReferenceNumber,
		Attempt:         record.Attempt,
		Channel:         string(record.Channel),
		Status:          string(record.Status),
		Detail:          record.Detail,
		Retryable:       record.Retryable,
		DurationMS:      record.DurationMS,
		Metadata:        copyAnyMap(record.Metadata),
		CreatedAt:       record.CreatedAt.UTC(),
	}
}

func (r outcomeRecord) toDomain() core.OutcomeRecord {
	return core.OutcomeRecord{
		ID:              r.ID,
		DispatchID:      r.DispatchID,
		ReferenceNumber: r.ReferenceNumber,
		Attempt:         r.Attempt,
		Channel:         core.Channel(r.Channel),
		Status:          core.OutcomeStatus(r.Status),
		Detail:          r.Detail,
		Retryable:       r.Retryable,
		DurationMS:      r.DurationMS,
		Metadata:        copyAnyMap(r.Metadata),
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

func submissionToDocument(submission core.Submission) map[string]any {
	doc := map[string]any{
		"id":               submission.ID,
		"name":             submission.Name,
		"email":            submission.Email,
		"subject":          submission.Subject,
		"message":          submission.Message,
		"reference_number": submission.ReferenceNumber,
		"received_at":      submission.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if submission.Phone != nil {
		doc["phone"] = *submission.Phone
	}
	return doc
}

func submissionFromDocument(doc map[string]any) core.Submission {
	submission := core.Submission{
		ID:              documentString(doc, "id"),
		Name:            documentString(doc, "name"),
		Email:           documentString(doc, "email"),
		Subject:         documentString(doc, "subject"),
		Message:         documentString(doc, "message"),
		ReferenceNumber: documentString(doc, "reference_number"),
	}
	if phone, ok := doc["phone"].(string); ok {
		submission.Phone = &phone
	}
	if raw := documentString(doc, "received_at"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			submission.ReceivedAt = parsed.UTC()
		}
	}
	return submission
}

func documentString(doc map[string]any, key string) string {
	value, ok := doc[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprint(value)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
