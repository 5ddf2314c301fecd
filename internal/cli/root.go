// Package cli provides the command-line interface for tstore-client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/ipc"
	"github.com/tstore/tstore-desktop/internal/logging"
)

var (
	// Global flags
	cfgFile    string
	socketPath string
	debug      bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc

	// newBackend connects to the backend process. Tests replace it.
	newBackend = func(socket string, timeout time.Duration, l *logging.Logger) gateway.Backend {
		client := ipc.NewClient(socket, l)
		client.SetTimeout(timeout)
		return client
	}
)

// Version information - set by main package at startup
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

// debugRequested reports whether --debug or TSTORE_DEBUG asked for debug output.
func debugRequested() bool {
	if debug {
		return true
	}
	v := os.Getenv("TSTORE_DEBUG")
	return v != "" && v != "0" && v != "false"
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tstore-client",
		Short: "tstore - Telegram-backed file storage client",
		Long: `tstore client ` + Version + ` - Built: ` + BuildTime + `
Lists, uploads, downloads, offloads and removes files held by the tstore
backend, edits their descriptions and follows sync progress.

The backend process must be running; the client reaches it over a local
socket (named pipe on Windows).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if debugRequested() {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Client config file (default ~/.config/tstore/client.ini)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Backend socket or pipe (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (also TSTORE_DEBUG=1)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, finishing pending work...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newOffloadCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newWatchCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
