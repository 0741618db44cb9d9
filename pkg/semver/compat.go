package semver

import (
	"fmt"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

const compatLogPrefix = "semver:compat"

// SatisfiesRange reports whether version satisfies rangeStr. An empty range
// matches everything; an invalid version or range matches nothing.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if rangeStr == "" {
		return true
	}
	if IsMajorOnly(rangeStr) {
		major, _ := strconv.ParseUint(rangeStr, 10, 64)
		return sv.Major() == major
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// MajorOf returns the major component of version.
func MajorOf(version string) (int, error) {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return 0, fmt.Errorf("%s - invalid version %q: %w", compatLogPrefix, version, err)
	}
	return int(sv.Major()), nil
}

// MismatchError reports a capability reference the running bridge cannot serve.
type MismatchError struct {
	Ref     string
	Version string
	Reason  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s (requested %s, running %s)", e.Reason, e.Ref, e.Version)
}

// CheckCapability parses ref and verifies it names capability and that
// version satisfies its range.
func CheckCapability(ref, capability, version string) error {
	parsed, err := ParseCapabilityRef(ref)
	if err != nil {
		return &MismatchError{Ref: ref, Version: version, Reason: "Invalid capability reference"}
	}
	if parsed.Full != capability {
		return &MismatchError{Ref: ref, Version: version, Reason: "Unknown capability " + parsed.Full}
	}
	if !SatisfiesRange(version, parsed.Range) {
		return &MismatchError{Ref: ref, Version: version, Reason: "Version not satisfied"}
	}
	return nil
}
