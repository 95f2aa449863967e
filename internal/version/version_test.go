package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func override(t *testing.T, v, c, d string) {
	t.Helper()
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})
	Version, Commit, BuildDate = v, c, d
}

func TestGetDefaults(t *testing.T) {
	override(t, "", "", "")
	assert.Equal(t, Info{Version: "dev", Commit: "dev", BuildDate: "dev"}, Get())
}

func TestString(t *testing.T) {
	override(t, "v0.4.0", "0123456789abcdef", "2026-10-01")
	assert.Equal(t, "v0.4.0 (commit 0123456789ab, built 2026-10-01)", Get().String())
}
