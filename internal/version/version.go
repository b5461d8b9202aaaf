// Package version holds build-time identity for the docpages binary.
package version

// Populated at build time via -ldflags "-X .../internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
