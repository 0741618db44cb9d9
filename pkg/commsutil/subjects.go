package commsutil

import (
	"fmt"
	"strings"
)

// SubjectPVWritten is the default global write event subject.
const SubjectPVWritten = "epics.pv.written"

// ToolCallSubject is the default subject the bridge serves tool calls on
// for the given major version.
func ToolCallSubject(major int) string {
	return BuildCapabilitySubject("epics", "bridge", major)
}

// BuildWrittenSubject builds the per-PV write event subject under base.
// Subject tokens cannot contain '.', '*', '>' or whitespace, so those become '_'.
func BuildWrittenSubject(base, pv string) string {
	return fmt.Sprintf("%s.%s", base, sanitizeToken(pv))
}

// BuildCapabilitySubject builds a COMMS subject for a capability.
func BuildCapabilitySubject(app, name string, major int) string {
	return fmt.Sprintf("cap.%s.%s.v%d", app, sanitizeToken(name), major)
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
