// oreon/appshell · watchthelight <wtl>

// Package platform holds the per-target behavior of the shell: how a close
// request is turned into "hide to tray", whether a tray exists at all, and
// how desktop notifications are delivered.
package platform

import (
	"errors"
	"fmt"

	"github.com/oreonproject/appshell/internal/window"
)

// ErrPlatform marks a failed best-effort platform call.
var ErrPlatform = errors.New("platform call failed")

// Hide policies accepted by Select.
const (
	PolicyAuto   = "auto"
	PolicyApp    = "app"
	PolicyWindow = "window"
	PolicyNone   = "none"
)

// Application is the host toolkit's process-wide handle.
type Application interface {
	// Hide hides every window of the application at once.
	Hide() error
	// Show reverses Hide.
	Show() error
}

// Shell is the capability set that differs between targets.
type Shell interface {
	Name() string
	// InterceptsClose reports whether close requests are turned into hides.
	InterceptsClose() bool
	// HideOnClose hides in response to a close request on the given window.
	HideOnClose(label string) error
	// Reveal brings the main window back.
	Reveal() error
	// HasTray reports whether the target supports a tray icon.
	HasTray() bool
}

// Select returns the Shell for policy. PolicyAuto resolves to the build
// target's convention (see defaultPolicy).
func Select(policy string, app Application, reg *window.Registry) (Shell, error) {
	if policy == "" || policy == PolicyAuto {
		policy = defaultPolicy
	}
	switch policy {
	case PolicyApp:
		if app == nil {
			return nil, errors.New("app hide policy needs an application handle")
		}
		return &AppHider{app: app, reg: reg}, nil
	case PolicyWindow:
		return &WindowHider{reg: reg}, nil
	case PolicyNone:
		return Mobile{}, nil
	default:
		return nil, fmt.Errorf("unknown hide policy %q", policy)
	}
}

// AppHider hides the whole application on any close request, following the
// macOS convention of keeping the app alive without visible windows.
type AppHider struct {
	app Application
	reg *window.Registry
}

func (s *AppHider) Name() string          { return PolicyApp }
func (s *AppHider) InterceptsClose() bool { return true }
func (s *AppHider) HasTray() bool         { return true }

func (s *AppHider) HideOnClose(string) error {
	if err := s.app.Hide(); err != nil {
		return fmt.Errorf("%w: hide application: %v", ErrPlatform, err)
	}
	s.reg.SetAppHidden(true)
	return nil
}

func (s *AppHider) Reveal() error {
	if err := s.app.Show(); err != nil {
		return fmt.Errorf("%w: show application: %v", ErrPlatform, err)
	}
	s.reg.SetAppHidden(false)
	return s.reg.Show(window.Main)
}

// WindowHider hides only the window that asked to close.
type WindowHider struct {
	reg *window.Registry
}

func (s *WindowHider) Name() string          { return PolicyWindow }
func (s *WindowHider) InterceptsClose() bool { return true }
func (s *WindowHider) HasTray() bool         { return true }

func (s *WindowHider) HideOnClose(label string) error {
	return s.reg.Hide(label)
}

func (s *WindowHider) Reveal() error {
	return s.reg.Show(window.Main)
}

// Mobile has no tray and lets the OS manage window closing.
type Mobile struct{}

func (Mobile) Name() string             { return PolicyNone }
func (Mobile) InterceptsClose() bool    { return false }
func (Mobile) HasTray() bool            { return false }
func (Mobile) HideOnClose(string) error { return nil }
func (Mobile) Reveal() error            { return nil }
