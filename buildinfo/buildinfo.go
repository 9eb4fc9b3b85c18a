// Package buildinfo reports the module set compiled into the running binary,
// which is exactly the set resolved from go.mod/go.sum at image build time.
package buildinfo

import (
	"runtime/debug"
	"sort"
)

// Module is one resolved dependency
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Sum     string `json:"sum,omitempty"`
	Replace string `json:"replace,omitempty"`
}

// Info describes the running build
type Info struct {
	GoVersion    string            `json:"go_version"`
	Main         string            `json:"main"`
	Version      string            `json:"version"`
	Settings     map[string]string `json:"settings,omitempty"`
	Dependencies []Module          `json:"dependencies"`
}

var readBuildInfo = debug.ReadBuildInfo

// Read returns the build information of the current binary. ok is false when the
// binary was built without module support.
func Read() (Info, bool) {
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return Info{}, false
	}
	return fromDebug(bi), true
}

func fromDebug(bi *debug.BuildInfo) Info {
	info := Info{
		GoVersion:    bi.GoVersion,
		Main:         bi.Main.Path,
		Version:      bi.Main.Version,
		Dependencies: make([]Module, 0, len(bi.Deps)),
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.time", "vcs.modified", "CGO_ENABLED", "-trimpath", "GOOS", "GOARCH":
			if info.Settings == nil {
				info.Settings = make(map[string]string)
			}
			info.Settings[s.Key] = s.Value
		}
	}

	for _, dep := range bi.Deps {
		m := Module{Path: dep.Path, Version: dep.Version, Sum: dep.Sum}
		if dep.Replace != nil {
			m.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		info.Dependencies = append(info.Dependencies, m)
	}
	sort.Slice(info.Dependencies, func(i, j int) bool {
		return info.Dependencies[i].Path < info.Dependencies[j].Path
	})
	return info
}
