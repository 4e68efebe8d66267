// Package version reports the build version set by the linker:
//
//	go build -ldflags "-X github.com/peer-mapper/trust-indexer/cmd/runtime/version.gitCommit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	gitTag    = "v0.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Get returns the version string printed by --version.
func Get() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", gitTag, gitCommit, buildDate, runtime.Version())
}
