// Package version carries build identification, overridden at link time via
// -ldflags "-X".
package version

var (
	// Version is the release version of the fusion toolchain.
	Version = "dev"
	// GitSHA is the commit the binaries were built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build identification for -version flags.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
