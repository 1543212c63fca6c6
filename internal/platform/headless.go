// oreon/appshell · watchthelight <wtl>

package platform

import (
	"errors"
	"log/slog"
	"sync"
)

var errWindowClosed = errors.New("window already closed")

// HeadlessWindow stands in for a toolkit window when the shell runs without a
// renderer attached (CI, servers, `--headless`). It tracks state and logs.
type HeadlessWindow struct {
	label  string
	logger *slog.Logger

	mu      sync.Mutex
	visible bool
	closed  bool
}

// NewHeadlessWindow creates a headless window with the given label.
func NewHeadlessWindow(label string, visible bool, logger *slog.Logger) *HeadlessWindow {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadlessWindow{label: label, visible: visible, logger: logger}
}

func (w *HeadlessWindow) Show() error {
	return w.set(true, "show")
}

func (w *HeadlessWindow) Hide() error {
	return w.set(false, "hide")
}

func (w *HeadlessWindow) set(visible bool, op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWindowClosed
	}
	w.visible = visible
	w.logger.Debug("headless window", "label", w.label, "op", op)
	return nil
}

func (w *HeadlessWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWindowClosed
	}
	w.closed = true
	w.visible = false
	w.logger.Debug("headless window", "label", w.label, "op", "close")
	return nil
}

// OpenInspector is a no-op; there is no renderer to inspect.
func (w *HeadlessWindow) OpenInspector() error {
	w.logger.Debug("headless window", "label", w.label, "op", "inspect")
	return nil
}

// Visible reports whether the window is currently shown.
func (w *HeadlessWindow) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// HeadlessApp is the Application counterpart of HeadlessWindow.
type HeadlessApp struct {
	mu     sync.Mutex
	hidden bool
}

func (a *HeadlessApp) Hide() error {
	a.mu.Lock()
	a.hidden = true
	a.mu.Unlock()
	return nil
}

func (a *HeadlessApp) Show() error {
	a.mu.Lock()
	a.hidden = false
	a.mu.Unlock()
	return nil
}

// Hidden reports whether Hide was the last call.
func (a *HeadlessApp) Hidden() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hidden
}
