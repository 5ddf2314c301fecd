//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"

	"github.com/tstore/tstore-desktop/internal/constants"
)

// DefaultSocketPath returns the path to the backend Unix domain socket.
// On Mac/Linux: ~/.config/tstore/backend.sock
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/tstore-backend.sock"
	}
	return filepath.Join(home, ".config", constants.AppName, "backend.sock")
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", path)
}
