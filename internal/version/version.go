package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/Hunter28-lucky/ai-calling-agent/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("%s (%s, %s)", Current(), Commit, Date)
}

// Current returns Version, falling back to the module version recorded by
// `go install` when no release version was stamped.
func Current() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
