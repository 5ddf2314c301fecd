//go:build windows

package ipctest

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// listen creates a named pipe listener restricted to the owner and SYSTEM.
func listen(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)(A;;GA;;;SY)",
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	}

	listener, err := winio.ListenPipe(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create named pipe: %w", err)
	}
	return listener, nil
}

func cleanup(string) {}
