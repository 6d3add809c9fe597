// Package version provides version information for OpenConduit.
package version

// Version is the current version of OpenConduit. Release builds override it
// with -ldflags "-X github.com/loganrossus/OpenConduit/pkg/version.Version=...".
var Version = "0.1.0-dev"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
