package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tstore/tstore-desktop/internal/constants"
)

// ConfigDirectory returns the per-user tstore configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\tstore
//   - Unix: ~/.config/tstore
func ConfigDirectory() (string, error) {
	if runtime.GOOS != "windows" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", constants.AppName), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, constants.AppName), nil
}

// LogDirectory returns the directory holding client.log.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\tstore\logs
//   - Unix: ~/.config/tstore/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "tstore-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, constants.AppName, "logs")
	}

	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "tstore-logs")
	}
	return filepath.Join(dir, "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// LogFilePath returns the full path of the rotating client log.
func LogFilePath() string {
	return filepath.Join(LogDirectory(), constants.LogFileName)
}
