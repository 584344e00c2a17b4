// Package version carries build metadata stamped in by the linker.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version banner printed by `healthmate version`.
func String() string {
	return "healthmate " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
