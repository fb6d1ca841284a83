// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// UserAgent is the User-Agent the cloud transport sends.
func UserAgent() string { return "holodex/" + Version }

// String formats the build for --version output.
func String() string { return Version + " (" + Commit + ", " + Date + ")" }
