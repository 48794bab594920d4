package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/jensholdgaard/event-scheduler/internal/api"
	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/health"
	"github.com/jensholdgaard/event-scheduler/internal/leader"
	"github.com/jensholdgaard/event-scheduler/internal/monitor"
	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/store"
	"github.com/jensholdgaard/event-scheduler/internal/telemetry"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	tp, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Log)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	backend, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	if err := backend.Events.Init(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	mgr, err := schedule.NewManager(backend.Events, clk, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating schedule manager: %w", err)
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		if mon, err = monitor.New(cfg.Monitor, mgr, logger, tp.MeterProvider); err != nil {
			return fmt.Errorf("creating monitor: %w", err)
		}
	}

	healthHandler := health.NewHandler(clk, health.Checker{
		Name:  "store",
		Check: backend.Ping,
	})

	srv := api.NewServer(cfg.Server, mgr, healthHandler, logger)
	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		serveErr <- srv.ListenAndServe()
	}()

	if mon != nil {
		go runMonitor(ctx, cfg.LeaderElection, mon, logger, tp.MeterProvider)
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "schedulerd is running", slog.String("version", version))

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// runMonitor runs the overdue scan on this replica only while it holds the
// lease, or unconditionally when leader election is off.
func runMonitor(ctx context.Context, cfg config.LeaderElectionConfig, mon *monitor.Monitor, logger *slog.Logger, mp metric.MeterProvider) {
	run := func(ctx context.Context) {
		if err := mon.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "monitor stopped", slog.Any("error", err))
		}
	}
	if !cfg.Enabled {
		run(ctx)
		return
	}

	elector, err := leader.New(cfg, logger, mp)
	if err != nil {
		logger.ErrorContext(ctx, "leader election", slog.Any("error", err))
		return
	}
	logger.InfoContext(ctx, "leader election enabled, monitor waits for leadership",
		slog.String("identity", elector.Identity()))
	if err := elector.Run(ctx, run); err != nil {
		logger.ErrorContext(ctx, "leader election", slog.Any("error", err))
	}
}
