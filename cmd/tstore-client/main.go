// tstore-client - command-line front end for the tstore backend process.
package main

import (
	"os"

	"github.com/tstore/tstore-desktop/internal/cli"
)

// Version information, set with -ldflags at release time.
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
