// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Populated via -ldflags "-X github.com/HerbHall/zbxrelay/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a one-line human readable description of the build.
func Info() string {
	return fmt.Sprintf("zbxrelay %s (%s) built at %s with %s",
		Version, Commit, BuildTime, runtime.Version())
}

// Map returns the build metadata as a map suitable for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
