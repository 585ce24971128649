// Package main implements appctl, the command-line client for a running
// appcored. It talks to the daemon's control endpoint and reads its log.
package main

import (
	"fmt"
	"os"

	"tools.zach/dev/appcore/internal/buildinfo"
)

// version is set at build time via ldflags.
var version = buildinfo.Unset

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
