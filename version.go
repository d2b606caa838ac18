package bitmask

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/diba-io/bitmask/cambria"
)

// Commit is the commit of this build, set with -ldflags during compilation.
// When empty the VCS revision recorded by the go tool is used.
var Commit string

const (
	// AppMajor is the major version of the wallet.
	AppMajor uint = 0

	// AppMinor is the minor version of the wallet.
	AppMinor uint = 7

	// AppPatch is the patch version of the wallet.
	AppPatch uint = 0

	// AppStatus is the pre-release label, empty for a release.
	AppStatus = "beta"
)

// BuildInfo describes the running binary and the data it writes.
type BuildInfo struct {
	// Version is the semantic version, e.g. 0.7.0-beta.
	Version string

	// Commit is the source revision, empty when unknown.
	Commit string

	// GoVersion is the toolchain the binary was built with.
	GoVersion string

	// Tags are the build tags the binary was built with.
	Tags []string

	// StorageTag is the version tag stamped on stored accounts and
	// transfer records.
	StorageTag string
}

// String renders the build summary shown by --version and at startup.
func (b BuildInfo) String() string {
	s := fmt.Sprintf("%s storage=%s", b.Version, b.StorageTag)
	if b.Commit != "" {
		s += " commit=" + b.Commit
	}
	if b.GoVersion != "" {
		s += " go=" + b.GoVersion
	}

	return s
}

// Build returns the build summary of the running binary.
func Build() BuildInfo {
	info := BuildInfo{
		Version:    Version(),
		Commit:     Commit,
		StorageTag: string(cambria.CurrentTag[:]),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = setting.Value
			}

		case "-tags":
			if setting.Value != "" {
				info.Tags = strings.Split(setting.Value, ",")
			}
		}
	}

	return info
}

// Version returns the semantic version of the wallet.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppStatus != "" {
		v += "-" + AppStatus
	}

	return v
}
