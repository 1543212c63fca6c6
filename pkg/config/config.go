// oreon/appshell · watchthelight <wtl>

// Package config loads the shell configuration from a TOML file and the
// process environment. Both are read once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config is the file-backed shell configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Update    UpdateConfig    `toml:"update"`
	IPC       IPCConfig       `toml:"ipc"`
	Tray      TrayConfig      `toml:"tray"`
	Window    WindowConfig    `toml:"window"`
	Autostart AutostartConfig `toml:"autostart"`
	Log       LogConfig       `toml:"log"`
	Journal   JournalConfig   `toml:"journal"`
}

// AppConfig identifies the application.
type AppConfig struct {
	Identifier string `toml:"identifier"`
	Name       string `toml:"name"`
	Version    string `toml:"version"`
}

// UpdateConfig configures the update orchestrator.
type UpdateConfig struct {
	Endpoint     string `toml:"endpoint"`
	CacheDir     string `toml:"cache_dir"`
	Channel      string `toml:"channel"`
	CheckOnStart bool   `toml:"check_on_start"`
	// ScanSocket is a clamd socket; when set every artifact is scanned.
	ScanSocket string `toml:"scan_socket"`
}

// IPCConfig configures the control socket.
type IPCConfig struct {
	SocketPath string `toml:"socket_path"`
}

// TrayConfig configures the tray icon.
type TrayConfig struct {
	Tooltip  string `toml:"tooltip"`
	IconPath string `toml:"icon_path"`
}

// WindowConfig selects the close-to-tray policy.
type WindowConfig struct {
	// HidePolicy is one of auto, app, window or none.
	HidePolicy string `toml:"hide_policy"`
}

// AutostartConfig controls launch-at-login registration.
type AutostartConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig configures the log file location.
type LogConfig struct {
	Dir string `toml:"dir"`
}

// JournalConfig configures the update journal database.
type JournalConfig struct {
	Path string `toml:"path"`
}

// Env holds process-wide settings taken from the environment.
type Env struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Backtrace     bool   `envconfig:"BACKTRACE" default:"false"`
	AllowMultiple bool   `envconfig:"ALLOW_MULTI" default:"false"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "APPSHELL"

const (
	appDirName        = "appshell"
	defaultConfigFile = "config.toml"
)

var validHidePolicies = map[string]bool{"auto": true, "app": true, "window": true, "none": true}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("~", ".config", appDirName, defaultConfigFile)
	}
	return filepath.Join(dir, appDirName, defaultConfigFile)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		cacheRoot = os.TempDir()
	}
	base := filepath.Join(cacheRoot, appDirName)
	return &Config{
		App: AppConfig{
			Identifier: "org.oreon.appshell",
			Name:       "AppShell",
			Version:    "0.1.0",
		},
		Update: UpdateConfig{
			CacheDir: filepath.Join(base, "updates"),
			Channel:  "stable",
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath(),
		},
		Tray: TrayConfig{
			Tooltip: "AppShell",
		},
		Window: WindowConfig{
			HidePolicy: "auto",
		},
		Log: LogConfig{
			Dir: filepath.Join(base, "logs"),
		},
		Journal: JournalConfig{
			Path: filepath.Join(base, "journal.db"),
		},
	}
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appDirName+".sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.sock", appDirName, os.Getuid()))
}

// Load reads the config at path, layered over Default. A missing file is not
// an error. An empty path selects DefaultPath.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if _, err := toml.DecodeFile(resolved, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	for _, p := range []*string{&cfg.Update.CacheDir, &cfg.Update.ScanSocket, &cfg.IPC.SocketPath, &cfg.Tray.IconPath, &cfg.Log.Dir, &cfg.Journal.Path} {
		if *p == "" {
			continue
		}
		if *p, err = expandPath(*p); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Window.HidePolicy == "" {
		c.Window.HidePolicy = "auto"
	}
	if !validHidePolicies[c.Window.HidePolicy] {
		return fmt.Errorf("window.hide_policy: unknown policy %q", c.Window.HidePolicy)
	}
	if strings.TrimSpace(c.App.Version) == "" {
		return errors.New("app.version is required")
	}
	if strings.TrimSpace(c.IPC.SocketPath) == "" {
		return errors.New("ipc.socket_path is required")
	}
	return nil
}

// LoadEnv reads the APPSHELL_* environment variables.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("failed to load environment: %w", err)
	}
	return env, nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
