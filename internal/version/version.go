// Package version holds build metadata, set with
// -ldflags "-X github.com/banshee-data/groundlink/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for -version style output.
func String() string {
	return fmt.Sprintf("groundlink %s (%s, built %s)", Version, GitSHA, BuildTime)
}
