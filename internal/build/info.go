package build

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "embed"
)

//go:embed VERSION
var rawVersion []byte

// Set through -ldflags at release time.
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

var startedAt = time.Now()

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
}

// GetBuildInfo returns build information.
func GetBuildInfo() Info {
	version := Version
	if version == "" {
		version = strings.TrimSpace(string(rawVersion))
	}

	return Info{
		Version:   version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:    time.Since(startedAt).Truncate(time.Second).String(),
	}
}

func (i Info) String() string {
	lines := []string{
		"Version: " + i.Version,
	}

	if i.Commit != "" {
		lines = append(lines, "Commit: "+i.Commit)
	}

	if i.BuildTime != "" {
		lines = append(lines, "Build Time: "+i.BuildTime)
	}

	lines = append(lines,
		"Go Version: "+i.GoVersion,
		"Platform: "+i.Platform,
		fmt.Sprintf("Uptime: %s", i.Uptime),
	)

	return strings.Join(lines, "\n") + "\n"
}
