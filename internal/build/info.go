// Package build exposes version information of the running binary.
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

// Overridden with -ldflags at release time.
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

var (
	goVersion = runtime.Version()
	platform  = runtime.GOOS + "/" + runtime.GOARCH
	startTime = time.Now()
)

//nolint:gochecknoinits // version fallback for local builds.
func init() {
	if Version == "" {
		Version = strings.TrimSpace(string(rawVersion))
	}
}

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
}

func GetBuildInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: goVersion,
		Platform:  platform,
		Uptime:    time.Since(startTime).Truncate(time.Second).String(),
	}
}

func (i Info) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "tenantguard %s (%s, %s)", i.Version, i.GoVersion, i.Platform)

	if i.Commit != "" {
		fmt.Fprintf(&sb, " commit %s", i.Commit)
	}

	if i.BuildTime != "" {
		fmt.Fprintf(&sb, " built %s", i.BuildTime)
	}

	return sb.String()
}
