package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestGetVersionInfo(t *testing.T) {
	is := is.New(t)
	info := GetVersionInfo()

	is.True(strings.HasPrefix(info, "french-tutor version dev")) // default banner
	is.True(strings.Contains(info, "commit: unknown"))
	is.True(strings.Contains(info, runtime.Version()))
}

func TestCurrentWithCustomValues(t *testing.T) {
	is := is.New(t)

	origVersion, origCommit, origBuild := Version, GitCommit, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = origVersion, origCommit, origBuild
	})

	Version = "v1.0.0"
	GitCommit = "abc123"
	BuildTime = "2026-01-01T00:00:00Z"

	info := Current()
	is.Equal(info.Version, "v1.0.0")
	is.Equal(info.GitCommit, "abc123")
	is.Equal(info.BuildTime, "2026-01-01T00:00:00Z")
	is.Equal(info.Name, Name)
}
