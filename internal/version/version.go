package version

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ChangeType classifies the difference between two versions.
type ChangeType string

const (
	ChangeMajor      ChangeType = "major"
	ChangeMinor      ChangeType = "minor"
	ChangePatch      ChangeType = "patch"
	ChangePrerelease ChangeType = "prerelease"
	ChangeBuild      ChangeType = "build"
	ChangeNone       ChangeType = "no_change"
	ChangeUnknown    ChangeType = "unknown"
)

// Ordering is the position of the new version relative to the current one.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Loosely-formed version patterns tried after strict parsing fails.
// Ordered: the first match wins, missing components default to zero.
var coercePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`),
	regexp.MustCompile(`^(\d+)\.(\d+)`),
	regexp.MustCompile(`^(\d+)`),
}

// Parse interprets a version string, accepting a leading "v" prefix.
// Strict semver is attempted first; failing that, the string is coerced
// from X.Y.Z, X.Y, or X prefixes. The literal "latest" and the empty
// string are unparseable.
func Parse(raw string) (*semver.Version, bool) {
	if raw == "" || raw == "latest" {
		return nil, false
	}

	clean := strings.TrimPrefix(raw, "v")

	if parsed, err := semver.StrictNewVersion(clean); err == nil {
		return parsed, true
	}

	return coerce(clean)
}

func coerce(clean string) (*semver.Version, bool) {
	for _, pattern := range coercePatterns {
		match := pattern.FindStringSubmatch(clean)
		if match == nil {
			continue
		}

		parts := [3]uint64{}
		for i := 1; i < len(match); i++ {
			value, err := strconv.ParseUint(match[i], 10, 64)
			if err != nil {
				return nil, false
			}
			parts[i-1] = value
		}
		return semver.New(parts[0], parts[1], parts[2], "", ""), true
	}
	return nil, false
}

// Compare orders the new version against the current one and classifies
// the change. Either side failing to parse yields (Equal, ChangeUnknown);
// callers must treat that as "cannot evaluate", not as an error.
func Compare(current, next string) (Ordering, ChangeType) {
	currentVer, okCurrent := Parse(current)
	nextVer, okNext := Parse(next)
	if !okCurrent || !okNext {
		return Equal, ChangeUnknown
	}

	switch nextVer.Compare(currentVer) {
	case 1:
		return Greater, classify(currentVer, nextVer)
	case -1:
		return Less, ChangeUnknown
	default:
		// Semver ordering ignores build metadata, so a build-only change
		// still compares equal.
		if nextVer.Metadata() != "" && nextVer.Metadata() != currentVer.Metadata() {
			return Equal, ChangeBuild
		}
		return Equal, ChangeNone
	}
}

// classify determines the change type for an upgrade, checking components
// in strict precedence major > minor > patch > prerelease > build.
func classify(current, next *semver.Version) ChangeType {
	switch {
	case next.Major() > current.Major():
		return ChangeMajor
	case next.Minor() > current.Minor():
		return ChangeMinor
	case next.Patch() > current.Patch():
		return ChangePatch
	case next.Prerelease() != "" && next.Prerelease() != current.Prerelease():
		return ChangePrerelease
	case next.Metadata() != "" && next.Metadata() != current.Metadata():
		return ChangeBuild
	}
	return ChangeNone
}

// IsUpgrade reports whether next is strictly higher than current.
func IsUpgrade(current, next string) bool {
	ordering, _ := Compare(current, next)
	return ordering == Greater
}

// IsBreakingChange reports whether the change bumps the major version.
func IsBreakingChange(current, next string) bool {
	_, changeType := Compare(current, next)
	return changeType == ChangeMajor
}
