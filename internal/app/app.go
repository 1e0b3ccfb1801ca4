// Package app wires configuration, storage, caches, and the trading pipeline
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfold/whalecopy/internal/config"
)

// App is the top-level application. It owns the wired dependencies and runs
// one of the configured modes until the context is cancelled.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates an App around a validated configuration.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies for the configured mode and runs it until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, &a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.cleanup = cleanup

	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting", slog.String("mode", mode))

	switch mode {
	case "copy":
		return a.CopyMode(ctx, deps)
	case "paper":
		return a.PaperMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unknown mode %q", a.cfg.Mode)
	}
}

// Close releases every wired resource in reverse order of acquisition.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}
