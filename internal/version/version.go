// Package version carries build metadata. Release builds set the variables
// with -ldflags "-X github.com/ongoingai/agenttrace/internal/version.Version=...".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build as "version (commit, date)" for the CLI, the
// health endpoint and the OpenTelemetry service version.
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}
