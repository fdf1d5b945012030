// Package version carries build identification, set at link time via
// -ldflags "-X github.com/jesseheckman/erobot/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the git commit SHA.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build identification on one line.
func String() string {
	return fmt.Sprintf("erobot %s (%s, built %s)", Version, GitSHA, BuildTime)
}
