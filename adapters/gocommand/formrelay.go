package gocommand

import (
	"context"
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"

	"github.com/goliatone/go-formrelay/command"
	"github.com/goliatone/go-formrelay/core"
	"github.com/goliatone/go-formrelay/query"
)

// FormRelayService is the service surface the commands and queries need.
type FormRelayService interface {
	command.SubmissionService
	command.OutboxService
	query.OutcomeReader
}

// Bindings holds the live subscriptions created by RegisterFormRelay.
type Bindings struct {
	subscriptions []commanddispatcher.Subscription
}

// Close unsubscribes every handler.
func (b *Bindings) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// RegisterFormRelay registers and subscribes the submit and drain commands
// and the outcomes query, then initializes the registry.
func RegisterFormRelay(adapter *RegistryAdapter, service FormRelayService) (*Bindings, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: formrelay service is required")
	}
	bindings := &Bindings{}

	submit, err := bindCommand[command.SubmitMessage](adapter, command.NewSubmitCommand(service))
	if err != nil {
		return nil, err
	}
	bindings.subscriptions = append(bindings.subscriptions, submit)

	drain, err := bindCommand[command.DrainOutboxMessage](adapter, command.NewDrainOutboxCommand(service))
	if err != nil {
		bindings.Close()
		return nil, err
	}
	bindings.subscriptions = append(bindings.subscriptions, drain)

	outcomes, err := bindQuery[query.GetDispatchOutcomesMessage, []core.OutcomeRecord](
		adapter,
		query.NewGetDispatchOutcomesQuery(service),
	)
	if err != nil {
		bindings.Close()
		return nil, err
	}
	bindings.subscriptions = append(bindings.subscriptions, outcomes)

	if err := adapter.Initialize(); err != nil {
		bindings.Close()
		return nil, err
	}
	return bindings, nil
}

// Submit dispatches a submit command and returns the stored receipt.
func Submit(ctx context.Context, payload map[string]any) (core.Receipt, error) {
	return dispatchWithResult[command.SubmitMessage, core.Receipt](ctx, command.SubmitMessage{Payload: payload})
}

// DrainOutbox dispatches a drain command and returns the batch stats.
func DrainOutbox(ctx context.Context, batchSize int) (core.DispatchStats, error) {
	result, err := dispatchWithResult[command.DrainOutboxMessage, command.DrainOutboxResult](
		ctx, command.DrainOutboxMessage{BatchSize: batchSize},
	)
	return result.Stats, err
}

// Outcomes runs the outcomes query.
func Outcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error) {
	msg := query.GetDispatchOutcomesMessage{DispatchID: dispatchID}
	if err := checkMessage(msg); err != nil {
		return nil, err
	}
	return commanddispatcher.Query[query.GetDispatchOutcomesMessage, []core.OutcomeRecord](ctx, msg)
}
