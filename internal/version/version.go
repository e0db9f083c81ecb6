// Package version reports the build version, set with
// -ldflags "-X hanjang/internal/version.Version=v1.2.3".
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
)

func String() string {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					commit = s.Value[:7]
				}
			}
		}
	}
	if commit == "" {
		return fmt.Sprintf("hanjang %s (%s)", Version, runtime.Version())
	}
	return fmt.Sprintf("hanjang %s %s (%s)", Version, commit, runtime.Version())
}
