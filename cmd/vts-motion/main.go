package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vts-motion/internal/dotenv"
	"github.com/vango-go/vts-motion/pkg/auth"
	"github.com/vango-go/vts-motion/pkg/config"
	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/lifecycle"
	"github.com/vango-go/vts-motion/pkg/protocol"
	"github.com/vango-go/vts-motion/pkg/supervisor"
	"github.com/vango-go/vts-motion/pkg/transport"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

type runner interface {
	Run(ctx context.Context) error
}

type motionDeps struct {
	loadConfig    func() (config.Config, error)
	newSupervisor func(config.Config, *slog.Logger) (runner, error)
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultMotionDeps() motionDeps {
	return motionDeps{
		loadConfig:    config.LoadFromEnv,
		newSupervisor: buildSupervisor,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildSupervisor(cfg config.Config, logger *slog.Logger) (runner, error) {
	codec := protocol.NewCodec()
	mgr, err := auth.NewManager(cfg.Identity(), auth.NewFileStore(cfg.TokenPath), codec, cfg.AuthOptions(), logger)
	if err != nil {
		return nil, err
	}
	sup, err := supervisor.New(cfg.SupervisorConfig(), transport.NewWSDialer(cfg.TransportOptions(), logger), mgr,
		supervisor.WithLogger(logger),
		supervisor.WithCodec(codec),
		supervisor.WithTracker(&lifecycle.Tracker{}),
	)
	if err != nil {
		return nil, err
	}
	return sup, nil
}

func setupLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runMotion(ctx context.Context, stderr io.Writer, deps motionDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newSupervisor == nil {
		return errors.New("missing newSupervisor dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg, stderr)

	sup, err := deps.newSupervisor(cfg, logger)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting motion plugin", "url", cfg.URL, "plugin", cfg.PluginName, "axes", len(cfg.Axes))

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- sup.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-runErrCh:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	cancel()
	if err := <-runErrCh; err != nil {
		return err
	}
	logger.Info("motion plugin stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps motionDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vts-motion: %v\n", err)
		return exitFailed
	}

	if err := runMotion(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "vts-motion: %v\n", err)
		if core.TypeOf(err) == core.ErrConfiguration {
			return exitConfig
		}
		return exitFailed
	}
	return exitOK
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultMotionDeps()))
}
