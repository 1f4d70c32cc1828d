package version

import "fmt"

// Set at build time with -ldflags "-X github.com/rowjay/restorekit/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("rkit %s (commit %s, built %s)", Version, Commit, Date)
}
