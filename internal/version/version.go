// Package version carries build metadata stamped in through -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent is sent on outbound requests to the price API and notifiers.
func UserAgent() string {
	return fmt.Sprintf("btcalert/%s", Version)
}
