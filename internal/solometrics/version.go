package solometrics

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
)

const unknownVersion = "(unable to determine)"

// BuildInfo describes the running binary and the IBC stack it was built against.
type BuildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	CosmosSDK string `json:"cosmos-sdk" yaml:"cosmos-sdk"`
	IBCGo     string `json:"ibc-go" yaml:"ibc-go"`
	Go        string `json:"go" yaml:"go"`
}

// ReadBuildInfo combines the version and commit stamped by the release build
// with what the toolchain recorded. An empty commit falls back to BuildCommit.
func ReadBuildInfo(version, commit string, dirty bool) BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    commit,
		CosmosSDK: unknownVersion,
		IBCGo:     unknownVersion,
		Go:        fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
	switch {
	case commit == "":
		info.Commit = BuildCommit()
	case dirty:
		info.Commit += " (dirty)"
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			v := dep.Version
			if dep.Replace != nil {
				v = dep.Replace.Version
			}
			switch dep.Path {
			case "github.com/cosmos/cosmos-sdk":
				info.CosmosSDK = v
			case "github.com/cosmos/ibc-go/v8":
				info.IBCGo = v
			}
		}
	}
	return info
}

// BuildCommit reports the stamped vcs.revision according to debug.ReadBuildInfo,
// with a "(dirty)" suffix when the working tree had uncommitted changes.
//
// Binaries built with "go run" report "unknown".
func BuildCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown (built without module support?)"
	}

	rev := "unknown"
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if d, err := strconv.ParseBool(s.Value); err == nil {
				dirty = d
			}
		}
	}

	if dirty {
		return rev + " (dirty)"
	}
	return rev
}
