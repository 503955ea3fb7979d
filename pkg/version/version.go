// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the binary name reported by the CLI and the health endpoint.
const Name = "french-tutor"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the JSON form served by the health endpoint.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	Go        string `json:"go"`
}

// Current returns the build metadata of the running binary.
func Current() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		Go:        runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s, go: %s)",
		i.Name, i.Version, i.GitCommit, i.BuildTime, i.Go)
}

// GetVersionInfo returns the one-line version banner.
func GetVersionInfo() string {
	return Current().String()
}
