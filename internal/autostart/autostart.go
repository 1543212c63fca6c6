// oreon/appshell · watchthelight <wtl>

// Package autostart registers the shell to launch at login: an XDG
// autostart entry on Linux, a LaunchAgent on macOS.
package autostart

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/oreonproject/appshell/pkg/events"
)

// ErrUnsupported is returned by New on platforms without a login item format.
var ErrUnsupported = errors.New("autostart not supported on this platform")

// Manager installs and removes the login item.
type Manager interface {
	IsInstalled() (bool, error)
	Install(execPath string) error
	Uninstall() error
	// Path is the file the login item lives in.
	Path() string
}

// App identifies the application being registered.
type App struct {
	Identifier string
	Name       string
	// Args are appended to the executable on launch.
	Args []string
}

// New returns the Manager for the running platform.
func New(app App) (Manager, error) {
	return newPlatform(app)
}

// fileManager writes one rendered file per login item.
type fileManager struct {
	path string
	tmpl *template.Template
	app  App
}

type templateData struct {
	App
	Exec string
}

func (m *fileManager) Path() string {
	return m.path
}

func (m *fileManager) IsInstalled() (bool, error) {
	_, err := os.Stat(m.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (m *fileManager) Install(execPath string) error {
	if execPath == "" {
		return errors.New("executable path is required")
	}
	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, templateData{App: m.app, Exec: execPath}); err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(m.path), err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(m.path), err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write login item: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install login item: %w", err)
	}
	return nil
}

func (m *fileManager) Uninstall() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove login item: %w", err)
	}
	return nil
}

// Sync makes the login item match enabled. Failures are logged and returned
// but callers treat them as non-fatal.
func Sync(m Manager, enabled bool, execPath string, emitter *events.Emitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	evt := events.StartAutostart(enabled).Set("path", m.Path())
	err := apply(m, enabled, execPath)
	if err != nil {
		evt.SetError(err)
		logger.Warn("autostart sync failed", "enabled", enabled, "error", err)
	}
	if emitter != nil {
		emitter.Emit(evt.End())
	}
	return err
}

func apply(m Manager, enabled bool, execPath string) error {
	installed, err := m.IsInstalled()
	if err != nil {
		return err
	}
	if enabled {
		// Rewrite on every start so a moved executable is picked up.
		return m.Install(execPath)
	}
	if installed {
		return m.Uninstall()
	}
	return nil
}
