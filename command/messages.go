package command

import (
	"github.com/goliatone/go-formrelay/core"
)

const (
	TypeSubmit      = "formrelay.command.submit"
	TypeDrainOutbox = "formrelay.command.outbox.drain"
)

// SubmitMessage carries a raw contact-form payload.
type SubmitMessage struct {
	Payload map[string]any
}

func (SubmitMessage) Type() string { return TypeSubmit }

// Validate only checks the envelope; field validation belongs to the service
// so the caller gets the missing field list.
func (m SubmitMessage) Validate() error {
	if m.Payload == nil {
		return commandValidationError("payload", "payload is required")
	}
	return nil
}

type DrainOutboxMessage struct {
	BatchSize int
}

func (DrainOutboxMessage) Type() string { return TypeDrainOutbox }

func (m DrainOutboxMessage) Validate() error {
	if m.BatchSize < 0 {
		return commandValidationError("batch_size", "batch size must be >= 0")
	}
	return nil
}

// DrainOutboxResult is stored in the result collector after a drain.
type DrainOutboxResult struct {
	Stats core.DispatchStats
}
