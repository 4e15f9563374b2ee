// Package build exposes build-time metadata injected via ldflags.
package build

// Version, Commit, and Branch are set at build time by:
//
//	-ldflags "-X github.com/joestump/spindle/internal/build.Version=... ..."
var (
	Version = "dev"
	Commit  = "unknown"
	Branch  = "unknown"
)

// UserAgent is sent on every outbound request to the remote collection API,
// which rejects anonymous clients.
func UserAgent() string {
	return "spindle/" + Version + " +https://github.com/joestump/spindle"
}
