// Package buildinfo derives version strings for the appcore binaries: at
// build time from git (for ldflags), and at run time from the ldflags value
// or the VCS info the Go toolchain embeds.
//
// Build-time formats depend on git state:
//
//	No tags, clean:     0.0.0-dev+05ffee5
//	No tags, dirty:     0.0.0-dev+05ffee5.dirty
//	On tag v0.1.0:      0.1.0
//	Dirty tag:          0.1.0-dirty
//	3 past v0.1.0:      0.1.0-dev.3+g1234567
//	Same but dirty:     0.1.0-dev.3+g1234567.dirty
package buildinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
)

// Unset is the value of a version variable that ldflags did not set.
const Unset = "dev"

// ///////////////////////////////////////////////
// Run Time
// ///////////////////////////////////////////////

// Resolve returns ldflagsVersion unless it is [Unset]; otherwise it builds a
// "dev+<hash>" tag from the embedded VCS revision.
func Resolve(ldflagsVersion string) string {
	if ldflagsVersion != Unset {
		return ldflagsVersion
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Unset
	}
	return FromSettings(info.Settings)
}

// FromSettings builds a "dev+<hash>[.dirty]" tag from build settings, or
// returns [Unset] when they carry no revision.
func FromSettings(settings []debug.BuildSetting) string {
	var revision string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return Unset
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return Unset + "+" + hash + ".dirty"
	}
	return Unset + "+" + hash
}

// ///////////////////////////////////////////////
// Build Time
// ///////////////////////////////////////////////

// Describe assembles a SemVer build version by querying git in the working
// directory. With no v-prefixed tag it falls back to <base>-dev+<hash>,
// where base comes from the release manifest at manifestPath.
func Describe(manifestPath string) string {
	base := BaseVersion(manifestPath)

	if out, err := exec.Command("git", "describe", "--tags", "--match", "v*", "--dirty").Output(); err == nil {
		return FormatTagged(strings.TrimSpace(string(out)))
	}

	out, err := exec.Command("git", "rev-parse", "--short=7", "HEAD").Output()
	if err != nil {
		return base + "-dev"
	}
	hash := strings.TrimSpace(string(out))

	if isDirty() {
		return fmt.Sprintf("%s-dev+%s.dirty", base, hash)
	}
	return fmt.Sprintf("%s-dev+%s", base, hash)
}

// FormatTagged converts git describe output ("v0.1.0-3-g1234567-dirty")
// into SemVer: the "v" prefix goes, "<N>-g<hash>" becomes "-dev.<N>+g<hash>"
// and a dirty tree is marked in the build metadata.
func FormatTagged(desc string) string {
	dirty := strings.HasSuffix(desc, "-dirty")
	clean := strings.TrimSuffix(desc, "-dirty")
	clean = strings.TrimPrefix(clean, "v")

	// git describe format: <tag>-<N>-g<abbreviated-hash>
	if lastDash := strings.LastIndex(clean, "-"); lastDash > 0 {
		hash := clean[lastDash+1:]
		rest := clean[:lastDash]
		secondLastDash := strings.LastIndex(rest, "-")
		if secondLastDash > 0 && strings.HasPrefix(hash, "g") {
			n := rest[secondLastDash+1:]
			tag := rest[:secondLastDash]
			meta := hash
			if dirty {
				meta += ".dirty"
			}
			return fmt.Sprintf("%s-dev.%s+%s", tag, n, meta)
		}
	}

	if dirty {
		return clean + "-dirty"
	}
	return clean
}

// isDirty reports whether the git working tree has uncommitted changes.
func isDirty() bool {
	out, err := exec.Command("git", "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// BaseVersion reads the root version (key ".") from the release manifest
// at path. It returns "0.0.0" if the file is missing, malformed, or lacks
// a root entry.
func BaseVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "0.0.0"
	}
	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "0.0.0"
	}
	if v, ok := manifest["."]; ok && v != "" {
		return v
	}
	return "0.0.0"
}
