package version

import (
	"runtime"
	"runtime/debug"
)

// Version is set at build time via ldflags (git tag)
var Version = "dev"

// Commit is set at build time via ldflags (git commit hash)
var Commit = ""

// Info describes the running binary
type Info struct {
	Version   string
	Commit    string
	Dirty     bool
	GoVersion string
}

// Get collects build information, preferring ldflags over embedded VCS data.
func Get() Info {
	info := Info{Version: Version, GoVersion: runtime.Version()}
	if Commit != "" {
		info.Commit = shortCommit(Commit)
		return info
	}
	info.Commit, info.Dirty = vcsInfo()
	return info
}

// String returns "version (commit)", e.g. "v1.2.0 (3f2a9c1-dirty)"
func String() string {
	return Get().String()
}

func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return i.Version + " (" + commit + ")"
}

// UserAgent identifies this tool to the object store
func UserAgent() string {
	return "blobmigrate/" + Version
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

func vcsInfo() (commit string, dirty bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = shortCommit(s.Value)
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return commit, dirty
}
