// oreon/appshell · watchthelight <wtl>

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/oreonproject/appshell/internal/autostart"
	"github.com/oreonproject/appshell/internal/instance"
	"github.com/oreonproject/appshell/internal/lifecycle"
	"github.com/oreonproject/appshell/internal/platform"
	"github.com/oreonproject/appshell/internal/shell"
	"github.com/oreonproject/appshell/internal/tray"
	"github.com/oreonproject/appshell/internal/update"
	"github.com/oreonproject/appshell/internal/window"
	"github.com/oreonproject/appshell/pkg/config"
	"github.com/oreonproject/appshell/pkg/events"
)

const logFileName = "appshell.log"

func defaultConfigHint() string {
	return config.DefaultPath()
}

func runShell(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if env.Backtrace {
		debug.SetTraceback("all")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logFile, err := setupLogging(env.LogLevel, cfg.Log.Dir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("starting", "name", cfg.App.Name, "version", cfg.App.Version, "pid", os.Getpid())

	emitter := events.NewEmitter(events.WithLogger(logger))

	var ln net.Listener
	if env.AllowMultiple {
		logger.Warn("single-instance lock disabled by environment")
	} else {
		ln, err = instance.NewGuard(cfg.IPC.SocketPath, logger, emitter).Acquire(ctx, instance.Hello())
		if errors.Is(err, instance.ErrAlreadyRunning) {
			logger.Info("another instance is running, exiting", "socket", cfg.IPC.SocketPath)
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
	}

	reg := window.NewRegistry(logger)
	if err := reg.Register(window.Splashscreen, platform.NewHeadlessWindow(window.Splashscreen, true, logger), true); err != nil {
		return err
	}
	if err := reg.Register(window.Main, platform.NewHeadlessWindow(window.Main, false, logger), false); err != nil {
		return err
	}

	journal, err := update.OpenJournal(cfg.Journal.Path)
	if err != nil {
		logger.Warn("update journal unavailable", "path", cfg.Journal.Path, "error", err)
		journal = nil
	}

	var (
		notifier platform.Notifier = platform.LogNotifier{Logger: logger}
		backend  tray.Backend      = tray.NewHeadless()
	)
	if !headless {
		notifier = platform.NewDBusNotifier(cfg.App.Name, cfg.Tray.IconPath)
		backend = tray.NewSystray()
	}

	starter, err := autostart.New(autostart.App{Identifier: cfg.App.Identifier, Name: cfg.App.Name})
	if err != nil {
		logger.Debug("autostart unavailable", "error", err)
		starter = nil
	}

	app, err := shell.New(shell.Options{
		Config:      cfg,
		Env:         env,
		Registry:    reg,
		Application: &platform.HeadlessApp{},
		Notifier:    notifier,
		TrayBackend: backend,
		Journal:     journal,
		Listener:    ln,
		Autostart:   starter,
		Emitter:     emitter,
		Logger:      logger,
	})
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}

	// SIGINT and SIGTERM skip the close-to-tray policy but still run cleanup.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			app.Router().Kill(lifecycle.ExitQuit)
		case <-app.Router().Done():
		}
	}()

	code := app.Run(ctx)
	logger.Info("stopped", "exit_code", code)

	switch code {
	case lifecycle.ExitQuit:
		return nil
	case lifecycle.ExitRestart:
		return relaunch(logger)
	default:
		return exitCodeError(code)
	}
}

func setupLogging(level, dir string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, nil, fmt.Errorf("APPSHELL_LOG_LEVEL: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), f, nil
}

// relaunch starts a fresh copy of the executable, which now holds the
// installed update. The control socket is already released.
func relaunch(logger *slog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relaunch %s: %w", exe, err)
	}
	logger.Info("relaunched after update", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}
