// Command genimagefactory-web serves the optional admin/monitoring HTTP
// surface: execution/image browsing, manual QC approval, zip/CSV export,
// and a server-sent-events stream of job and retry progress. It never
// starts jobs itself — that stays with the desktop UI and
// genimagefactoryctl, each of which binds its own Processor to the
// settings it was handed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ascensum/genimagefactory/cmd/genimagefactory-web/server"
	"github.com/ascensum/genimagefactory/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "path to a config file (optional; env vars also apply)")
	flag.Parse()

	app, cleanup, err := wiring.Build(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer cleanup()

	handler, err := server.New(app)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", app.Cfg.Server.Host, app.Cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  app.Cfg.Server.ReadTimeout,
		WriteTimeout: app.Cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("admin surface listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		app.Logger.Info("shutting down admin surface")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
