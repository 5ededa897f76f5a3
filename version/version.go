package version

import "fmt"

// these values are set during build via ldflags
var (
	Version   = "v0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var FullVersion = fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
