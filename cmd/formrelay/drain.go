package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/goliatone/go-command"

	"github.com/goliatone/go-formrelay/adapters/gocommand"
)

type DrainCmd struct {
	BatchSize int `name:"batch-size" help:"Maximum records to claim, 0 uses DISPATCH_BATCH_SIZE." default:"0"`
}

func (c *DrainCmd) Run(globals *Globals) error {
	ctx := context.Background()
	a, err := buildApp(ctx, globals, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return drain(ctx, a, c.BatchSize, os.Stdout)
}

// drain runs DrainOutbox through the command dispatcher and prints the stats
// as JSON.
func drain(ctx context.Context, a *app, batchSize int, out io.Writer) error {
	bindings, err := gocommand.RegisterFormRelay(gocommand.NewRegistryAdapter(command.NewRegistry()), a)
	if err != nil {
		return err
	}
	defer bindings.Close()

	if batchSize <= 0 {
		batchSize = a.config.Dispatch.BatchSize
	}
	stats, err := gocommand.DrainOutbox(ctx, batchSize)
	if err != nil {
		return err
	}
	a.logger.Info("outbox drained",
		"claimed", stats.Claimed,
		"delivered", stats.Delivered,
		"retried", stats.Retried,
		"failed", stats.Failed,
	)
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(stats)
}
