// oreon/appshell · watchthelight <wtl>

// Package tray builds the process-wide tray icon and routes its menu to the
// lifecycle router.
package tray

import (
	_ "embed"
	"log/slog"
	"os"
	"sync"

	"github.com/oreonproject/appshell/pkg/events"
)

//go:embed icon.png
var defaultIcon []byte

// Menu item identifiers, also used as the tray_action event item.
const (
	ItemShow     = "show"
	ItemCheck    = "check_updates"
	ItemQuit     = "quit"
	ItemActivate = "activate"
)

// Actions is what the tray drives. The lifecycle router satisfies it.
type Actions interface {
	ShowMain(source string)
	Quit(code int, source string)
}

// Options configures the tray.
type Options struct {
	Tooltip  string
	IconPath string
	// QuitCode is passed to Actions.Quit from the quit item.
	QuitCode int
	// CheckForUpdates adds a menu item when set. It runs on its own goroutine.
	CheckForUpdates func()
	Emitter         *events.Emitter
	Logger          *slog.Logger
}

// Tray owns the tray icon for the whole run.
type Tray struct {
	backend Backend
	actions Actions
	opts    Options

	ready    chan struct{}
	stopOnce sync.Once
}

// New creates a tray. Nothing is shown until Run.
func New(backend Backend, actions Actions, opts Options) *Tray {
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tray{
		backend: backend,
		actions: actions,
		opts:    opts,
		ready:   make(chan struct{}),
	}
}

// Run shows the icon and blocks until Stop.
func (t *Tray) Run() error {
	t.backend.Run(t.build, func() {
		t.opts.Logger.Debug("tray torn down")
	})
	return nil
}

// Ready is closed once the menu has been built.
func (t *Tray) Ready() <-chan struct{} {
	return t.ready
}

// Stop removes the icon and makes Run return. Safe to call more than once.
func (t *Tray) Stop() {
	t.stopOnce.Do(t.backend.Quit)
}

func (t *Tray) build() {
	t.backend.SetIcon(t.icon())
	if t.opts.Tooltip != "" {
		t.backend.SetTooltip(t.opts.Tooltip)
	}

	t.backend.AddMenuItem("Show", "Show the main window", func() {
		t.dispatch(ItemShow, func() { t.actions.ShowMain("tray") })
	})
	if t.opts.CheckForUpdates != nil {
		check := t.opts.CheckForUpdates
		t.backend.AddMenuItem("Check for Updates", "Look for a newer version", func() {
			t.dispatch(ItemCheck, func() { go check() })
		})
	}
	t.backend.AddSeparator()
	t.backend.AddMenuItem("Quit", "Quit the application", func() {
		t.dispatch(ItemQuit, func() { t.actions.Quit(t.opts.QuitCode, "tray") })
	})

	t.backend.SetOnActivate(func() {
		t.dispatch(ItemActivate, func() { t.actions.ShowMain("tray") })
	})

	close(t.ready)
}

func (t *Tray) dispatch(item string, fn func()) {
	evt := events.StartTrayAction(item)
	fn()
	t.opts.Emitter.Emit(evt.End())
}

func (t *Tray) icon() []byte {
	if t.opts.IconPath == "" {
		return defaultIcon
	}
	data, err := os.ReadFile(t.opts.IconPath)
	if err != nil {
		t.opts.Logger.Warn("tray icon unreadable, using default", "path", t.opts.IconPath, "error", err)
		return defaultIcon
	}
	return data
}
