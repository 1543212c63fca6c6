// oreon/appshell · watchthelight <wtl>

// Package shell assembles the running application: window registry,
// lifecycle router, tray, update orchestrator and control socket. App is the
// command surface the control socket and the tray call into.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/oreonproject/appshell/internal/autostart"
	"github.com/oreonproject/appshell/internal/instance"
	"github.com/oreonproject/appshell/internal/lifecycle"
	"github.com/oreonproject/appshell/internal/platform"
	"github.com/oreonproject/appshell/internal/tray"
	"github.com/oreonproject/appshell/internal/update"
	"github.com/oreonproject/appshell/internal/window"
	"github.com/oreonproject/appshell/pkg/config"
	"github.com/oreonproject/appshell/pkg/events"
	"github.com/oreonproject/appshell/pkg/ipc"
)

// Notification text shown when a second launch is turned away.
const (
	AlreadyRunningTitle = "This app is already running!"
	AlreadyRunningBody  = "You can find it in the tray menu."
)

// Options wires an App. Registry must already hold the splash screen and
// main window.
type Options struct {
	Config   *config.Config
	Env      config.Env
	Registry *window.Registry
	// Application is the host's process handle; required by the app hide policy.
	Application platform.Application
	Notifier    platform.Notifier
	TrayBackend tray.Backend
	Source      update.Source
	Installer   update.Installer
	// Scanner defaults to clamd when update.scan_socket is configured.
	Scanner update.Scanner
	Journal *update.Journal
	// Listener is the control socket claimed by instance.Guard. Nil runs
	// without a control socket.
	Listener  net.Listener
	Autostart autostart.Manager
	// Executable is registered for autostart. Defaults to os.Executable.
	Executable string
	Emitter    *events.Emitter
	Logger     *slog.Logger
}

// App is the application state shared by every component.
type App struct {
	cfg       *config.Config
	env       config.Env
	registry  *window.Registry
	shell     platform.Shell
	router    *lifecycle.Router
	updates   *update.Orchestrator
	journal   *update.Journal
	notifier  platform.Notifier
	tray      *tray.Tray
	server    *instance.Server
	autostart autostart.Manager
	exe       string
	emitter   *events.Emitter
	logger    *slog.Logger

	// Background work started by the shell itself (startup check, tray
	// check, autostart sync). shutdown cancels bgCtx and waits for it before
	// closing what it uses.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bgClosed bool
	bg       sync.WaitGroup
}

// backgroundGrace bounds how long shutdown waits for background work that
// ignores cancellation.
const backgroundGrace = 5 * time.Second

// New builds the App and registers its lifecycle hooks. Nothing runs until Run.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("window registry is required")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = platform.LogNotifier{Logger: opts.Logger}
	}

	sh, err := platform.Select(opts.Config.Window.HidePolicy, opts.Application, opts.Registry)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       opts.Config,
		env:       opts.Env,
		registry:  opts.Registry,
		shell:     sh,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		autostart: opts.Autostart,
		exe:       opts.Executable,
		emitter:   opts.Emitter,
		logger:    opts.Logger,
	}
	a.bgCtx, a.bgCancel = context.WithCancel(context.Background())

	a.router = lifecycle.New(sh,
		lifecycle.WithEmitter(opts.Emitter),
		lifecycle.WithLogger(opts.Logger))

	source := opts.Source
	if source == nil {
		ua := fmt.Sprintf("%s/%s", opts.Config.App.Name, opts.Config.App.Version)
		source = update.NewHTTPSource(opts.Config.Update.Endpoint, ua).WithChannel(opts.Config.Update.Channel)
	}
	installer := opts.Installer
	if installer == nil {
		installer = &update.BinaryInstaller{Logger: opts.Logger}
	}
	scanner := opts.Scanner
	if scanner == nil && opts.Config.Update.ScanSocket != "" {
		scanner = update.NewClamd(opts.Config.Update.ScanSocket)
	}
	a.updates = update.New(update.Options{
		CurrentVersion: opts.Config.App.Version,
		Source:         source,
		CacheDir:       opts.Config.Update.CacheDir,
		Installer:      installer,
		Scanner:        scanner,
		Restart:        func() { a.router.Quit(lifecycle.ExitRestart, "update") },
		Journal:        opts.Journal,
		Emitter:        opts.Emitter,
		Logger:         opts.Logger,
	})

	backend := opts.TrayBackend
	if backend == nil || !sh.HasTray() {
		backend = tray.NewHeadless()
	}
	a.tray = tray.New(backend, a.router, tray.Options{
		Tooltip:         opts.Config.Tray.Tooltip,
		IconPath:        opts.Config.Tray.IconPath,
		QuitCode:        lifecycle.ExitQuit,
		CheckForUpdates: a.checkFromTray,
		Emitter:         opts.Emitter,
		Logger:          opts.Logger,
	})

	if opts.Listener != nil {
		a.server = instance.NewServer(opts.Config.IPC.SocketPath, opts.Listener, a, opts.Emitter)
	}

	a.router.OnStateChange(a.publishState)
	a.router.OnReady(a.onReady)
	a.router.OnShutdown(a.shutdown)
	return a, nil
}

// Router returns the lifecycle router. Host toolkits feed close and exit
// requests into it.
func (a *App) Router() *lifecycle.Router {
	return a.router
}

// Updates returns the update orchestrator.
func (a *App) Updates() *update.Orchestrator {
	return a.updates
}

// Shell returns the selected platform shell.
func (a *App) Shell() platform.Shell {
	return a.shell
}

// Run starts the control socket and the lifecycle loop, then runs the tray
// on the calling goroutine until the router terminates. It returns the exit
// code the router terminated with.
func (a *App) Run(ctx context.Context) int {
	var g errgroup.Group
	if a.server != nil {
		g.Go(func() error {
			if err := a.server.Serve(); err != nil {
				a.logger.Error("control socket stopped", "error", err)
				return fmt.Errorf("control socket: %w", err)
			}
			return nil
		})
	}
	code := lifecycle.ExitKilled
	g.Go(func() error {
		code = a.router.Run(ctx)
		return nil
	})

	a.router.Ready()
	if err := a.tray.Run(); err != nil {
		a.logger.Error("tray exited", "error", err)
	}
	select {
	case <-a.router.Done():
	default:
		a.logger.Warn("tray exited before shutdown, continuing without it")
	}
	<-a.router.Done()
	if err := g.Wait(); err != nil {
		a.logger.Warn("shell ran without its control socket", "error", err)
	}
	return code
}

func (a *App) publishState(old, new lifecycle.State) {
	if a.server == nil {
		return
	}
	a.server.Publish(ipc.EventStateChange, ipc.StateChangeEvent{
		OldState: old.String(),
		NewState: new.String(),
	})
}

func (a *App) onReady() {
	if a.env.LogLevel == "debug" {
		err := a.registry.With(window.Main, func(h window.Handle) error {
			if i, ok := h.(window.Inspectable); ok {
				return i.OpenInspector()
			}
			return nil
		})
		if err != nil {
			a.logger.Debug("open inspector failed", "error", err)
		}
	}

	if a.autostart != nil {
		exe := a.exe
		if exe == "" {
			exe, _ = os.Executable()
		}
		a.background(func(context.Context) {
			autostart.Sync(a.autostart, a.cfg.Autostart.Enabled, exe, a.emitter, a.logger)
		})
	}

	if a.cfg.Update.CheckOnStart && a.cfg.Update.Endpoint != "" {
		a.background(func(ctx context.Context) {
			if _, err := a.updates.Check(ctx); err != nil {
				a.logger.Warn("startup update check failed", "error", err)
			}
		})
	}
}

// background runs fn on its own goroutine unless shutdown has begun.
func (a *App) background(fn func(ctx context.Context)) bool {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()
	if a.bgClosed {
		return false
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn(a.bgCtx)
	}()
	return true
}

// stopBackground cancels background work and waits for it, up to
// backgroundGrace.
func (a *App) stopBackground() {
	a.bgMu.Lock()
	a.bgClosed = true
	a.bgMu.Unlock()
	a.bgCancel()

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(backgroundGrace):
		a.logger.Warn("background work still running at shutdown")
	}
}

// shutdown runs during ExitPending. An install in progress always finishes
// before the socket and tray go away.
func (a *App) shutdown(ctx context.Context) {
	if err := a.updates.Quiesce(ctx); err != nil {
		a.logger.Warn("waiting for install failed", "error", err)
	}
	a.updates.Cancel()
	a.stopBackground()

	var err error
	if a.server != nil {
		err = multierr.Append(err, a.server.Close())
	}
	a.tray.Stop()
	if c, ok := a.notifier.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if a.journal != nil {
		err = multierr.Append(err, a.journal.Close())
	}
	if err != nil {
		a.logger.Warn("shutdown cleanup failed", "error", err)
	}
}

func (a *App) checkFromTray() {
	if !a.background(a.checkAndNotify) {
		a.logger.Debug("update check from tray ignored during shutdown")
	}
}

func (a *App) checkAndNotify(ctx context.Context) {
	s, err := a.updates.Check(ctx)
	if err != nil {
		a.logger.Warn("update check from tray failed", "error", err)
		return
	}
	title, body := "No updates", fmt.Sprintf("%s %s is the latest version.", a.cfg.App.Name, a.cfg.App.Version)
	if s.Available {
		title, body = "Update available", fmt.Sprintf("Version %s is ready to download.", s.Version())
	}
	if err := a.notifier.Notify(title, body); err != nil {
		a.logger.Debug("update notification failed", "error", err)
	}
}
