// Package version carries the build identity stamped in via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/compressarr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/compressarr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/compressarr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Stamped at build time; the zero build identifies itself as dev.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the structured form served by the version command and health
// endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo collects the build identity plus runtime facts.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit trims the SHA for one-line output.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String renders the long form used by the version command.
func String() string {
	info := GetInfo()
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("compressarr version %s (commit: %s, built: %s, %s, %s)",
			info.Version, sc, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("compressarr version %s (%s, %s)", info.Version, info.GoVersion, info.Platform)
}

// Short renders the one-liner cobra prints for --version.
func Short() string {
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("compressarr %s (%s)", Version, sc)
	}
	return fmt.Sprintf("compressarr %s", Version)
}

// JSON renders GetInfo as indented JSON for scripting.
func JSON() string {
	data, _ := json.MarshalIndent(GetInfo(), "", "  ")
	return string(data)
}
