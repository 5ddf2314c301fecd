// Package config provides client preference management for tstore.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/ini.v1"

	"github.com/tstore/tstore-desktop/internal/constants"
)

// ClientConfig holds preferences owned by the client process. The backend's
// own settings (bot token, chat, sync folder) live in models.Config and are
// read and written through the gateway instead.
//
// INI format:
//
//	[backend]
//	socket_path = /home/me/.config/tstore/backend.sock
//	request_timeout_seconds = 30
//
//	[editor]
//	autosave_delay_seconds = 60
//
//	[registry]
//	refresh_coalesce_ms = 25
//
//	[notifications]
//	enabled = true
//	desktop = false
//
//	[logging]
//	level = info
//	file = true
type ClientConfig struct {
	Backend       BackendConfig
	Editor        EditorConfig
	Registry      RegistryConfig
	Notifications NotificationConfig
	Logging       LoggingConfig
}

// BackendConfig controls how the client reaches the backend process.
type BackendConfig struct {
	// SocketPath overrides the platform default socket or pipe. Empty means default.
	SocketPath string `ini:"socket_path"`

	// RequestTimeoutSeconds bounds a single request/response exchange.
	RequestTimeoutSeconds int `ini:"request_timeout_seconds"`
}

// EditorConfig controls the description editor.
type EditorConfig struct {
	AutosaveDelaySeconds int `ini:"autosave_delay_seconds"`
}

// RegistryConfig controls file list refreshes.
type RegistryConfig struct {
	RefreshCoalesceMs int `ini:"refresh_coalesce_ms"`
}

// NotificationConfig contains settings for user-visible notifications.
type NotificationConfig struct {
	// Enabled turns the in-app notification feed on or off.
	Enabled bool `ini:"enabled"`

	// Desktop additionally raises an OS toast for failures.
	Desktop bool `ini:"desktop"`
}

// LoggingConfig controls log verbosity and the rotating log file.
type LoggingConfig struct {
	Level string `ini:"level"`
	File  bool   `ini:"file"`
}

// Validation errors
var (
	ErrInvalidRequestTimeout = errors.New("request_timeout_seconds must be between 1 and 3600")
	ErrInvalidAutosaveDelay  = errors.New("autosave_delay_seconds must be between 1 and 3600")
	ErrInvalidCoalesceWindow = errors.New("refresh_coalesce_ms must be between 0 and 10000")
)

// DefaultClientConfigPath returns the default path for client.ini.
func DefaultClientConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, constants.ClientConfigFile), nil
}

// NewClientConfig creates a new ClientConfig with default values.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		Backend: BackendConfig{
			RequestTimeoutSeconds: int(constants.RequestTimeout / time.Second),
		},
		Editor: EditorConfig{
			AutosaveDelaySeconds: int(constants.DescriptionAutosaveDelay / time.Second),
		},
		Registry: RegistryConfig{
			RefreshCoalesceMs: int(constants.RefreshCoalesceWindow / time.Millisecond),
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Desktop: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  true,
		},
	}
}

// LoadClientConfig loads preferences from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := NewClientConfig()

	if path == "" {
		var err error
		path, err = DefaultClientConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	backend := iniFile.Section("backend")
	cfg.Backend.SocketPath = backend.Key("socket_path").String()
	cfg.Backend.RequestTimeoutSeconds = backend.Key("request_timeout_seconds").MustInt(cfg.Backend.RequestTimeoutSeconds)

	cfg.Editor.AutosaveDelaySeconds = iniFile.Section("editor").Key("autosave_delay_seconds").MustInt(cfg.Editor.AutosaveDelaySeconds)
	cfg.Registry.RefreshCoalesceMs = iniFile.Section("registry").Key("refresh_coalesce_ms").MustInt(cfg.Registry.RefreshCoalesceMs)

	notify := iniFile.Section("notifications")
	cfg.Notifications.Enabled = notify.Key("enabled").MustBool(true)
	cfg.Notifications.Desktop = notify.Key("desktop").MustBool(false)

	logging := iniFile.Section("logging")
	cfg.Logging.Level = logging.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = logging.Key("file").MustBool(true)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveClientConfig saves preferences to an INI file.
// Creates parent directories if they don't exist.
func SaveClientConfig(cfg *ClientConfig, path string) error {
	if path == "" {
		var err error
		path, err = DefaultClientConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	backend, err := iniFile.NewSection("backend")
	if err != nil {
		return fmt.Errorf("failed to create backend section: %w", err)
	}
	backend.Key("socket_path").SetValue(cfg.Backend.SocketPath)
	backend.Key("request_timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.Backend.RequestTimeoutSeconds))

	editor, err := iniFile.NewSection("editor")
	if err != nil {
		return fmt.Errorf("failed to create editor section: %w", err)
	}
	editor.Key("autosave_delay_seconds").SetValue(fmt.Sprintf("%d", cfg.Editor.AutosaveDelaySeconds))

	registry, err := iniFile.NewSection("registry")
	if err != nil {
		return fmt.Errorf("failed to create registry section: %w", err)
	}
	registry.Key("refresh_coalesce_ms").SetValue(fmt.Sprintf("%d", cfg.Registry.RefreshCoalesceMs))

	notify, err := iniFile.NewSection("notifications")
	if err != nil {
		return fmt.Errorf("failed to create notifications section: %w", err)
	}
	notify.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notifications.Enabled))
	notify.Key("desktop").SetValue(fmt.Sprintf("%t", cfg.Notifications.Desktop))

	logging, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	logging.Key("level").SetValue(cfg.Logging.Level)
	logging.Key("file").SetValue(fmt.Sprintf("%t", cfg.Logging.File))

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks value ranges.
func (cfg *ClientConfig) Validate() error {
	if cfg.Backend.RequestTimeoutSeconds < 1 || cfg.Backend.RequestTimeoutSeconds > 3600 {
		return ErrInvalidRequestTimeout
	}
	if cfg.Editor.AutosaveDelaySeconds < 1 || cfg.Editor.AutosaveDelaySeconds > 3600 {
		return ErrInvalidAutosaveDelay
	}
	if cfg.Registry.RefreshCoalesceMs < 0 || cfg.Registry.RefreshCoalesceMs > 10000 {
		return ErrInvalidCoalesceWindow
	}
	return nil
}

// RequestTimeout returns the backend request timeout as a duration.
func (cfg *ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(cfg.Backend.RequestTimeoutSeconds) * time.Second
}

// AutosaveDelay returns the description autosave idle window.
func (cfg *ClientConfig) AutosaveDelay() time.Duration {
	return time.Duration(cfg.Editor.AutosaveDelaySeconds) * time.Second
}

// RefreshCoalesce returns the registry invalidation coalesce window.
func (cfg *ClientConfig) RefreshCoalesce() time.Duration {
	return time.Duration(cfg.Registry.RefreshCoalesceMs) * time.Millisecond
}
