package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the HTTP API. When watch directories are configured, files
dropped into them are ingested automatically and removed files have their
records deleted. Shutdown flushes every collection before exit.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := server.NewServer(c.manager, c.pipeline, c.engine, &cfg.Server, log)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if len(cfg.Watch.Directories) > 0 {
		w, err := startWatch(watchCtx, c, log)
		if err != nil {
			_ = c.Close(ctx)
			return err
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = c.Close(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	return c.Close(shutdownCtx)
}

// startWatch wires the configured drop directories to the ingestion
// pipeline and syncs pre-existing files.
func startWatch(ctx context.Context, c *components, log *zap.Logger) (*watcher.Watcher, error) {
	name := c.cfg.Watch.Collection

	onFile := func(path string) {
		chunks, err := c.pipeline.IngestFilePath(ctx, name, path)
		if err != nil {
			log.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			return
		}
		log.Info("watched file ingested", zap.String("path", path), zap.Int("chunks", chunks))
	}
	onRemove := func(path string) {
		n, err := c.pipeline.DeleteBySource(ctx, name, path)
		if err != nil {
			log.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("watched file removed", zap.String("path", path), zap.Int("records", n))
		}
	}

	w := watcher.New(watcher.Options{
		Roots:      c.cfg.Watch.Directories,
		Extensions: c.cfg.Watch.Extensions,
		Recursive:  c.cfg.Watch.RecursiveOrDefault(),
		Logger:     log,
	}, onFile, onRemove)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	go w.Sync()
	return w, nil
}
