package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"curator/internal/config"
	"curator/internal/curator"
	"curator/internal/daemon"
	"curator/internal/deps"
	"curator/internal/events"
	"curator/internal/ipc"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/processor"
	"curator/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the curator daemon and blocks until a signal arrives or a
// client asks the daemon to exit.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.FileName)
	logHub := logging.NewStreamHub(4096)

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Rotation:         logging.RotationFromConfig(cfg),
		Stream:           logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open cache store", logging.Error(err))
		return err
	}
	defer st.Close()
	if from := st.RebuiltFrom(); from != 0 {
		logging.WarnWithContext(logger, "cache database rebuilt", "cache_schema_rebuilt",
			logging.Int("previous_version", from),
			logging.String("path", st.Path()),
			logging.String(logging.FieldImpact, "every asset is re-hashed on the first sweep"))
	}

	hub := events.NewHub()
	notifier := notifications.NewService(cfg)
	cur, err := curator.New(signalCtx, curator.Options{
		Config:   cfg,
		Store:    st,
		Events:   hub,
		Logger:   logger,
		Notifier: notifier,
	})
	if err != nil {
		return fmt.Errorf("create curator: %w", err)
	}
	m := metrics.New(cur.Stats)
	proc, err := processor.New(processor.Options{
		Config:    cfg,
		Curator:   cur,
		Logger:    logger,
		Events:    hub,
		Metrics:   m,
		Notifier:  notifier,
		LogBuffer: 256,
	})
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Store:     st,
		Curator:   cur,
		Processor: proc,
		Events:    hub,
		Metrics:   m,
		Notifier:  notifier,
		LogHub:    logHub,
		LogPath:   logPath,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.ServeAPI(signalCtx); err != nil {
		logging.WarnWithContext(logger, "api server unavailable", "api_start_failed",
			logging.Error(err),
			logging.String("bind", cfg.API.Bind),
			logging.String(logging.FieldImpact, "HTTP status, log streaming and metrics are unavailable"),
			logging.String(logging.FieldErrorHint, "check api.bind for port conflicts"),
		)
	}

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run curator status to review preflight checks, then curator start"),
			logging.String(logging.FieldImpact, "assets will not be transformed until processing starts"),
		)
	}

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("curator daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	worker := deps.ResolveWorkerBinary(cfg.Workers.Binary)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("worker_binary", worker),
		logging.Int("worker_slots", cfg.Workers.Count),
		logging.String("platform", cfg.Project.Platform),
		logging.Int("data_dirs", len(cfg.Paths.DataDirs)),
		logging.Bool("watch", cfg.Scanner.Watch),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.API.Token) != ""),
	}
	for _, status := range deps.CheckBinaries([]deps.Requirement{{Name: "worker", Command: worker}}) {
		attrs = append(attrs, logging.Bool("worker_available", status.Available))
		if status.Detail != "" {
			attrs = append(attrs, logging.String("worker_detail", status.Detail))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
