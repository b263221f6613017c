package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goliatone/go-formrelay/api"
)

type ServeCmd struct {
	Addr string `help:"Listen address, overrides HTTP_ADDR."`
}

func (c *ServeCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, globals, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = a.config.HTTP.Addr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, a, listener)
}

// serve runs the HTTP server on listener until ctx is done, then drains
// requests and in-flight dispatches within the shutdown timeout.
func serve(ctx context.Context, a *app, listener net.Listener) error {
	if err := a.service.Start(ctx); err != nil {
		return err
	}

	router := api.New(a,
		api.WithLogger(a.provider.GetLogger("formrelay.http")),
		api.WithProduction(a.config.IsProduction()),
		api.WithMetricsHandler(a.metricsHandler()),
		api.WithOperatorRoutes(a.config.HTTP.OperatorRoutes),
	)
	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	timeout := a.config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown failed", "error", err.Error())
	}
	if err := a.service.Stop(shutdownCtx); err != nil {
		a.logger.Warn("dispatch shutdown incomplete; pending records stay in the outbox", "error", err.Error())
	}
	a.logger.Info("formrelay stopped")
	return serveErr
}
