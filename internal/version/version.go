// Package version reports which sheetqa build is running. Release builds
// set the variables through ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/sheetqa/internal/version.Version=1.4.0
//	  -X github.com/jmylchreest/sheetqa/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/jmylchreest/sheetqa/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Without ldflags, `go install` module versions and VCS stamps are used.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// ApplicationName prefixes version strings and the User-Agent.
const ApplicationName = "sheetqa"

const (
	develVersion = "0.0.0"
	unknown      = "unknown"
	shortSHA     = 8
)

// Set by ldflags.
var (
	Version = develVersion
	Commit  = unknown
	Date    = unknown
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == develVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = strings.TrimPrefix(bi.Main.Version, "v")
	}
	if Commit != unknown {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
		case "vcs.time":
			Date = s.Value
		}
	}
}

// Info is the machine-readable build description.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Snapshot  bool   `json:"snapshot"`
}

// GetInfo describes the running binary.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Snapshot:  IsSnapshot(),
	}
}

func commitShort() (string, bool) {
	if Commit == unknown || len(Commit) < shortSHA {
		return "", false
	}
	return Commit[:shortSHA], true
}

// String is the long form printed by `sheetqa version`.
func String() string {
	i := GetInfo()
	if sha, ok := commitShort(); ok {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, i.Version, sha, i.Date, i.GoVersion, i.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, i.Version, i.GoVersion, i.Platform)
}

// Short is the version with an abbreviated commit when known.
func Short() string {
	if sha, ok := commitShort(); ok {
		return Version + " (" + sha + ")"
	}
	return Version
}

// JSON renders GetInfo for `sheetqa version --json`.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// IsSnapshot reports an untagged or development build.
func IsSnapshot() bool {
	return Version == develVersion || Version == "dev" || strings.Contains(Version, "-dev.")
}

// UserAgent identifies sheetqa to vocabulary services and is recorded in
// the project store.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", ApplicationName, Version, runtime.GOOS+"/"+runtime.GOARCH)
}
