package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-formrelay/core"
)

type SubmissionService interface {
	Accept(ctx context.Context, raw map[string]any) (core.Receipt, error)
	Handoff(ctx context.Context, receipt core.Receipt)
}

type OutboxService interface {
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

// SubmitCommand accepts a submission and hands it off. The receipt is stored
// in the result collector before the handoff runs.
type SubmitCommand struct {
	service SubmissionService
}

func NewSubmitCommand(service SubmissionService) *SubmitCommand {
	return &SubmitCommand{service: service}
}

func (c *SubmitCommand) Execute(ctx context.Context, msg SubmitMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: submission service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	receipt, err := c.service.Accept(ctx, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, receipt)
	c.service.Handoff(ctx, receipt)
	return nil
}

type DrainOutboxCommand struct {
	service OutboxService
}

func NewDrainOutboxCommand(service OutboxService) *DrainOutboxCommand {
	return &DrainOutboxCommand{service: service}
}

func (c *DrainOutboxCommand) Execute(ctx context.Context, msg DrainOutboxMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: outbox service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	stats, err := c.service.DispatchPending(ctx, msg.BatchSize)
	if err != nil {
		return err
	}
	storeResult(ctx, DrainOutboxResult{Stats: stats})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
