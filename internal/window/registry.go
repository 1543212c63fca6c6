// oreon/appshell · watchthelight <wtl>

// Package window keeps the shell's named window handles. Each entry carries
// its own lock; the splash screen and main window never contend.
package window

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Logical names of the windows the shell manages.
const (
	Splashscreen = "splashscreen"
	Main         = "main"
)

var (
	// ErrNotFound is returned for a name that was never registered.
	ErrNotFound = errors.New("window not found")
	// ErrClosed is returned for a handle that has already been closed.
	ErrClosed = errors.New("window closed")
)

// Handle is a platform window owned by the host toolkit.
type Handle interface {
	Show() error
	Hide() error
	Close() error
}

// Inspectable is implemented by handles that can open developer tools.
type Inspectable interface {
	OpenInspector() error
}

type entry struct {
	mu      sync.Mutex
	handle  Handle
	visible bool
	closed  bool
}

// Registry maps logical names to window handles. Registration happens during
// startup; lookups and window calls may come from any goroutine.
type Registry struct {
	mu      sync.RWMutex // guards entries, not the handles
	entries map[string]*entry
	logger  *slog.Logger

	// appHidden is set while the host hides the application as a whole.
	appHidden atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register stores h under name. visible reports whether the window starts shown.
func (r *Registry) Register(name string, h Handle, visible bool) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handle", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("register %s: already registered", name)
	}
	r.entries[name] = &entry{handle: h, visible: visible}
	return nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// With runs fn with exclusive access to the named handle.
func (r *Registry) With(name string, fn func(Handle) error) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: %s", ErrClosed, name)
	}
	return fn(e.handle)
}

// Show makes the named window visible.
func (r *Registry) Show(name string) error {
	return r.setVisible(name, true)
}

// Hide hides the named window.
func (r *Registry) Hide(name string) error {
	return r.setVisible(name, false)
}

func (r *Registry) setVisible(name string, visible bool) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: %s", ErrClosed, name)
	}
	if visible {
		err = e.handle.Show()
	} else {
		err = e.handle.Hide()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action(visible), name, err)
	}
	e.visible = visible
	return nil
}

func action(visible bool) string {
	if visible {
		return "show"
	}
	return "hide"
}

// Close closes the named window. The handle is unusable afterwards; closing
// an already closed window is a no-op.
func (r *Registry) Close(name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	// The handle is retired even if the platform call fails: a window that
	// refused to close is not reused.
	e.closed = true
	e.visible = false
	if err := e.handle.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Visible reports the last known visibility of the named window.
func (r *Registry) Visible(name string) bool {
	e, err := r.lookup(name)
	if err != nil {
		return false
	}
	if r.appHidden.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible && !e.closed
}

// SetAppHidden records that the host hid (or showed) the whole application.
// While hidden no window reports visible; each keeps its own state for when
// the application is shown again.
func (r *Registry) SetAppHidden(hidden bool) {
	r.appHidden.Store(hidden)
}

// Closed reports whether the named window has been closed.
func (r *Registry) Closed(name string) bool {
	e, err := r.lookup(name)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Names returns the registered window names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.entries)
	slices.Sort(names)
	return names
}

// CloseSplashscreenAndShowMain closes the splash screen, then shows the main
// window. Both steps are best-effort and failures are only logged, so calling
// it again after the splash is gone just re-shows the main window.
func (r *Registry) CloseSplashscreenAndShowMain() {
	if err := r.Close(Splashscreen); err != nil {
		r.logger.Debug("close splashscreen failed", "error", err)
	}
	if err := r.Show(Main); err != nil {
		r.logger.Debug("show main window failed", "error", err)
	}
}
