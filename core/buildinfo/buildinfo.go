// Package buildinfo carries release metadata injected with -ldflags:
//
//	-X 'github.com/m3rciful/menubot/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/m3rciful/menubot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/menubot/core/buildinfo.Date=2025-08-30T12:00:00Z'
package buildinfo

import "fmt"

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String formats the metadata for startup banners and the health endpoint.
func String() string {
	if Date == "" {
		return fmt.Sprintf("menubot %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("menubot %s (%s, built %s)", Version, Commit, Date)
}
