// Package semver parses capability references ("epics.bridge@^0.1") and checks
// them against the running bridge version.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// CapabilityRef is a parsed capability reference.
type CapabilityRef struct {
	// Full capability without the range ("epics.bridge")
	Full string
	// App namespace ("epics")
	App string
	// Name within the app ("bridge")
	Name string
	// Range after '@'; empty means any version
	Range string
	Raw   string
}

var (
	capabilityNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	appNameRegex        = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	majorOnlyRegex      = regexp.MustCompile(`^\d+$`)
	exactVersionRegex   = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseCapabilityRef parses app.name[@range]. The range may be a major
// ("0"), an exact version ("0.1.0") or any constraint Masterminds accepts
// ("^0.1", "~0.1.0", ">=0.1.0 <1.0.0").
func ParseCapabilityRef(input string) (*CapabilityRef, error) {
	raw := strings.TrimSpace(input)
	capPart, rangeStr, _ := strings.Cut(raw, "@")

	app, name, ok := strings.Cut(capPart, ".")
	if !ok {
		return nil, fmt.Errorf("%s - invalid capability format, missing app: %s", logPrefix, raw)
	}
	if !ValidateAppName(app) || !ValidateCapabilityName(name) {
		return nil, fmt.Errorf("%s - invalid capability format: %s", logPrefix, raw)
	}

	return &CapabilityRef{
		Full:  capPart,
		App:   app,
		Name:  name,
		Range: strings.TrimSpace(rangeStr),
		Raw:   raw,
	}, nil
}

// String rebuilds the reference.
func (r *CapabilityRef) String() string {
	return BuildCapabilityString(r.App, r.Name, r.Range)
}

// IsMajorOnly reports whether rangeStr is a bare major ("3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion reports whether rangeStr is a full version ("3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// BuildCapabilityString joins app, name and an optional version or range.
func BuildCapabilityString(app, name, version string) string {
	base := app + "." + name
	if version != "" {
		return base + "@" + version
	}
	return base
}

// ValidateCapabilityName allows letters, digits, dots, hyphens and underscores.
func ValidateCapabilityName(name string) bool {
	return capabilityNameRegex.MatchString(name)
}

// ValidateAppName allows lowercase letters, digits and hyphens.
func ValidateAppName(app string) bool {
	return appNameRegex.MatchString(app)
}
