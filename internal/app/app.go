// Package app owns the application lifecycle: it wires the stores, queue,
// worker, and HTTP server together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebwray/swapflow/internal/config"
	"github.com/calebwray/swapflow/internal/domain"
)

// shutdownTimeout bounds how long in-flight HTTP requests may drain.
const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// the cleanup stack run on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and runs the HTTP server, the queue consumers,
// and the optional archiver until ctx is cancelled. On return all resources
// have been released.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("env", a.cfg.Env),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("port", a.cfg.Server.Port),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	// Terminal failures come back through the queue's failed hook: emit the
	// failed status exactly once, then alert.
	deps.Queue.SetOnFailed(func(ctx context.Context, job domain.OrderJob, cause error) {
		deps.Worker.HandleFinalFailure(ctx, job, cause)
		deps.Notifier.OrderFailed(ctx, &job, "Order execution failed")
	})

	// Confirmed orders only announce after the full pipeline succeeded.
	process := func(ctx context.Context, job *domain.OrderJob) error {
		if err := deps.Worker.Process(ctx, job); err != nil {
			return err
		}
		if job.LastTxSignature != "" {
			deps.Notifier.OrderConfirmed(ctx, job, deps.Chain.ExplorerLink(job.LastTxSignature))
		}
		return nil
	}

	errCh := make(chan error, 3)

	go func() {
		errCh <- deps.Server.Start()
	}()
	go func() {
		errCh <- deps.Queue.Start(ctx, process)
	}()
	if deps.Archiver != nil {
		go func() {
			err := deps.Archiver.Run(ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			errCh <- err
		}()
	}

	// Block until shutdown is requested or a component dies.
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
