// Package buildinfo carries release metadata stamped into the binary.
package buildinfo

// Set via -ldflags at release time; the defaults identify a local build.
var (
	// Version is the release version or git describe output.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
