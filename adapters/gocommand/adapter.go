// Package gocommand routes formrelay commands and queries through the
// go-command registry and dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var errRegistryMissing = fmt.Errorf("gocommand: registry is not configured")

// RegistryAdapter owns the go-command registry formrelay handlers are
// registered in.
type RegistryAdapter struct {
	registry   *command.Registry
	runnerOpts []runner.Option
}

// NewRegistryAdapter wraps registry, creating one when nil. runnerOpts apply
// to every handler bound through the adapter.
func NewRegistryAdapter(registry *command.Registry, runnerOpts ...runner.Option) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry, runnerOpts: runnerOpts}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errRegistryMissing
	}
	return nil
}

// MirrorToQueue registers a resolver that copies every command into
// queueRegistry during Initialize, so a go-job worker can replay drains.
func (a *RegistryAdapter) MirrorToQueue(key string, queueRegistry *jobqueuecommand.Registry) error {
	if err := a.ready(); err != nil {
		return err
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("gocommand: resolver key is required")
	}
	if a.registry.HasResolver(key) {
		return fmt.Errorf("gocommand: resolver %q already registered", key)
	}
	return a.registry.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func bindCommand[T any](a *RegistryAdapter, cmd command.Commander[T]) (commanddispatcher.Subscription, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, a.runnerOpts...)
	if err := a.registry.RegisterCommand(cmd); err != nil {
		unsubscribe(subscription)
		return nil, err
	}
	return subscription, nil
}

func bindQuery[T any, R any](a *RegistryAdapter, qry command.Querier[T, R]) (commanddispatcher.Subscription, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, a.runnerOpts...)
	if err := a.registry.RegisterCommand(qry); err != nil {
		unsubscribe(subscription)
		return nil, err
	}
	return subscription, nil
}

func unsubscribe(subscription commanddispatcher.Subscription) {
	if subscription != nil {
		subscription.Unsubscribe()
	}
}

// checkMessage runs the message's own Validate and rejects blank types
// before anything reaches the dispatcher.
func checkMessage(msg command.Message) error {
	if strings.TrimSpace(msg.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return command.ValidateMessage(msg)
}

func dispatchWithResult[T command.Message, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := checkMessage(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, _ := collector.Load()
	return value, nil
}
