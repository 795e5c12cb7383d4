package version

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// DevVersion is the version of builds without release ldflags
var DevVersion = "v0.0.0"

var version = DevVersion

func GetVersion() string {
	return version
}

// Parse parses a version with or without the leading v
func Parse(v string) (semver.Version, error) {
	parsed, err := semver.Parse(strings.TrimPrefix(v, "v"))
	if err != nil {
		return semver.Version{}, fmt.Errorf("parse version %s: %w", v, err)
	}
	return parsed, nil
}

// Compatible reports whether a cli of version a can talk to a daemon of
// version b. Dev builds are compatible with everything.
func Compatible(a, b string) (bool, error) {
	if a == DevVersion || b == DevVersion {
		return true, nil
	}

	v1, err := Parse(a)
	if err != nil {
		return false, err
	}
	v2, err := Parse(b)
	if err != nil {
		return false, err
	}
	if v1.Major != v2.Major {
		return false, nil
	}

	// before v1 every minor release may break the api
	return v1.Major != 0 || v1.Minor == v2.Minor, nil
}
