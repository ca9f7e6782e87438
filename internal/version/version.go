package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time via -ldflags.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders build information on one line per field.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}

// UserAgent is sent to upstream APIs when none is configured.
func UserAgent() string {
	return "netstats/" + Version
}
