// Package version holds build-time version metadata, set with -ldflags.
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = ""
)

// Go returns GoVersion, or the running toolchain's version when the build
// did not set it.
func Go() string {
	if GoVersion != "" {
		return GoVersion
	}
	return runtime.Version()
}
