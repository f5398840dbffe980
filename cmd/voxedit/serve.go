package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxedit/internal/app"
	"github.com/MrWong99/voxedit/internal/config"
	"github.com/MrWong99/voxedit/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dictation server",
		Long: `Run the dictation server.

The server accepts transcripts over HTTP and WebSocket and applies them to an
in-memory document. SIGHUP reloads the config file; SIGINT and SIGTERM shut
the server down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmdContext(cmd), opts, cmd)
		},
	}
}

func serve(parent context.Context, opts *options, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), level))

	slog.Info("voxedit starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, app.WithLevel(level))
	if err != nil {
		return err
	}

	// ── Config reload on SIGHUP ───────────────────────────────────────────────
	if opts.configPath != "" {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloadOnSignal(ctx, hup, opts.configPath, application)
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// reloadOnSignal re-reads path on every signal from sigs and applies it.
// A config that fails to load or apply leaves the running one in place.
func reloadOnSignal(ctx context.Context, sigs <-chan os.Signal, path string, a *app.App) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		cfg, err := config.Load(path)
		if err != nil {
			slog.Error("config reload failed", "path", path, "err", err)
			continue
		}
		d, err := a.ApplyConfig(ctx, cfg)
		if err != nil {
			slog.Error("config reload failed", "path", path, "err", err)
			continue
		}
		slog.Info("config reloaded", "path", path, "changed", d.Changed(), "restart_required", d.RestartRequired)
	}
}
