package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestString(t *testing.T) {
	color.NoColor = true
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })

	tests := []struct {
		version, commit, date string
		want                  string
	}{
		{version: "0.1.0-dev", want: "miri 0.1.0-dev"},
		{version: "1.2.3", commit: "abc123def4567890", want: "miri 1.2.3 (abc123def456)"},
		{version: "2.0.0", date: "2026-01-15", want: "miri 2.0.0 built 2026-01-15"},
		{version: "nightly", want: "miri nightly"},
	}
	for _, tt := range tests {
		Version, GitCommit, BuildDate = tt.version, tt.commit, tt.date
		if got := String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
