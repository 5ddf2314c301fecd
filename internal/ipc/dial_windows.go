//go:build windows

package ipc

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

// PipeName is the Windows named pipe the backend listens on.
const PipeName = `\\.\pipe\tstore-backend`

// DefaultSocketPath returns the named pipe path.
func DefaultSocketPath() string {
	return PipeName
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
