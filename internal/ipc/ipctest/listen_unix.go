//go:build !windows

package ipctest

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listen creates a Unix domain socket listener at path.
func listen(path string) (net.Listener, error) {
	// Ensure socket directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove any stale socket file
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	// Set socket permissions (user only)
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return listener, nil
}

// cleanup removes the socket file. Called on shutdown.
func cleanup(path string) {
	os.Remove(path)
}
