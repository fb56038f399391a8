package version

import "fmt"

// These variables are set at build time via -ldflags
// Example: go build -ldflags "-X github.com/pysugar/chat-automator/internal/version.Version=v0.2.0"
var (
	Version = "dev"

	Commit = "none"

	BuildTime = "unknown"
)

// String renders the build info for `chatrunner version`.
func String() string {
	return fmt.Sprintf("chatrunner %s (commit %s, built %s)", Version, Commit, BuildTime)
}
