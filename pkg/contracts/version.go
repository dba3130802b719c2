// Package contracts carries the build identity shared by every binary in
// the module. The wire and domain contracts live in the subpackages.
package contracts

import (
	"fmt"
	"runtime"
)

// Build metadata, overridable at link time:
//
//	go build -ldflags "-X keygate/pkg/contracts.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	                   -X keygate/pkg/contracts.GitCommit=$(git rev-parse --short HEAD)"
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// CurrentBuild returns the identity of this binary under the given release
// version. The version is passed in so this package needs nothing beyond
// the runtime.
func CurrentBuild(version string) BuildInfo {
	return BuildInfo{
		Version:   version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// String formats the identity for startup log lines and version output.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		b.Version, b.GitCommit, b.BuildTime, b.GoVersion, b.OS, b.Arch)
}
