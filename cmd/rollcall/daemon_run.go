package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/config"
	"rollcall/internal/daemon"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/store"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the attendance daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()
	hub := logging.NewStreamHub(4096)
	logger, logPath, err := logging.NewRunLogger(cfg, logging.RunOptions{RunID: runID, Hub: hub})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	deps, err := buildDependencies(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("daemon dependencies unavailable", logging.Error(err))
		return err
	}
	deps.Hub = hub
	deps.RunID = runID
	deps.LogPath = logPath

	d, err := daemon.New(cfg, deps, logger)
	if err != nil {
		closeDependencies(deps)
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		closeDependencies(deps)
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("rollcall daemon shutting down", logging.String("reason", "signal"))
	case <-d.Done():
		logger.Info("rollcall daemon shutting down", logging.String("reason", "capture loop ended"))
	}
	d.Stop()
	if err := d.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildDependencies constructs the production components from cfg.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (daemon.Dependencies, error) {
	registry, err := camera.BuiltinRegistry(cfg.FFmpegBinary())
	if err != nil {
		return daemon.Dependencies{}, fmt.Errorf("camera backends: %w", err)
	}
	manager := camera.NewManager(camera.OptionsFromConfig(cfg, registry, logger))
	client := faces.NewClient(cfg.Recognition.FaceServiceURL, cfg.RequestTimeout())

	deps := daemon.Dependencies{
		Camera:   manager,
		Analyzer: client,
		Matcher:  match.New(match.OptionsFromConfig(cfg, logger)),
		PhotoDir: cfg.Paths.PhotoDir,
	}

	var cache faces.TemplateCache
	if cfg.Attendance.Enabled {
		backend, err := store.Open(ctx, cfg, logger)
		if err != nil {
			_ = manager.Close()
			return daemon.Dependencies{}, err
		}
		deps.Store = backend
		cache = store.TemplateCache(backend)
		deps.Recorder = newRecorder(cfg, backend, logger)
	}

	deps.Roster = faces.NewStore(faces.StoreOptions{
		Detector:  client,
		Encoder:   client,
		Cache:     cache,
		ModelFunc: client.Model,
		Logger:    logger,
	})
	return deps, nil
}

func newRecorder(cfg *config.Config, backend attendance.Store, logger *slog.Logger) daemon.Recorder {
	rec := attendance.NewRecorder(backend, attendance.OptionsFromConfig(cfg, logger))
	if cfg.Attendance.QueueSize > 0 {
		return attendance.NewQueue(rec, cfg.Attendance.QueueSize)
	}
	return rec
}

// closeDependencies releases components when the daemon never started.
func closeDependencies(deps daemon.Dependencies) {
	if deps.Camera != nil {
		_ = deps.Camera.Close()
	}
	if deps.Store != nil {
		if err := deps.Store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warn: close attendance store: %v\n", err)
		}
	}
}
