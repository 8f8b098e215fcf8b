// Command server runs the guiding agent as an HTTP service.
//
//	export GEMINI_API_KEY="your-api-key"
//	export JOURNAL_DIR=./store
//	go run ./cmd/server
//
//	curl -d '{"task":"Open example.com and print the title","wait":true}' localhost:8080/api/runs
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/config"
	"github.com/mariozechner/guiding-agent/pkg/guide"
	"github.com/mariozechner/guiding-agent/pkg/logging"
	"github.com/mariozechner/guiding-agent/pkg/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	closer, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := guide.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer g.Close()

	srv := server.New(g, g.Journal, slog.Default(), server.WithRetainedRuns(cfg.Server.RetainedRuns))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
