// Package main prints a SemVer-style build version string for use in ldflags:
//
//	go build -ldflags "-X main.version=$(go run ./cmd/buildver)" ./cmd/appcored
//
// It replaces the Unix-only git describe pipeline so builds work the same
// on Windows.
package main

import (
	"flag"
	"fmt"

	"tools.zach/dev/appcore/internal/buildinfo"
)

func main() {
	manifest := flag.String("manifest", ".release-manifest.json", "Release manifest holding the base version")
	flag.Parse()
	fmt.Print(buildinfo.Describe(*manifest))
}
