package buildinfo

import (
	"fmt"
	"log"
	"runtime/debug"
)

// Set via -ldflags at release time; vcs info from the build is the fallback.
var (
	Version = "dev"
	Commit  = ""
)

// Info returns a single-line build summary.
func Info() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		commit = "unknown"
	}
	return fmt.Sprintf("version=%s commit=%s", Version, commit)
}

// Log writes the build summary with the service name.
func Log(service string) {
	log.Printf("%s %s", service, Info())
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}
