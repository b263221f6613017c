// Command formrelay serves the contact endpoint and drains the dispatch
// outbox.
package main

import (
	"github.com/alecthomas/kong"
)

type Globals struct {
	EnvFile  []string `name:"env-file" help:"Dotenv files to load before the process environment." type:"path"`
	LogLevel string   `name:"log-level" help:"Log level (trace, debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
}

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"1" help:"Run the HTTP server and dispatch workers."`
	Drain DrainCmd `cmd:"" help:"Dispatch one batch of due outbox records and exit."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("formrelay"),
		kong.Description("Contact form relay with durable multi-channel delivery."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
