// Package version exposes build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns the full version string for --version output.
func Info() string {
	return fmt.Sprintf("metricwatch %s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the version number.
func Short() string {
	return Version
}
