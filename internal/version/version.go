// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

// Set at build time, e.g.
// -ldflags "-X github.com/myotronics/k7sweep/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the metadata on one line.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("k7sweep %s (%s, built %s)", Version, sha, BuildTime)
}
