package semver

import (
	"testing"
)

const parserTestPrefix = "semver:parser_test"

func TestParseCapabilityRef(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantApp   string
		wantName  string
		wantRange string
		wantFull  string
		wantErr   bool
	}{
		{name: "no version", input: "epics.bridge", wantApp: "epics", wantName: "bridge", wantFull: "epics.bridge"},
		{name: "major only", input: "epics.bridge@0", wantApp: "epics", wantName: "bridge", wantRange: "0", wantFull: "epics.bridge"},
		{name: "exact version", input: "epics.bridge@0.1.0", wantApp: "epics", wantName: "bridge", wantRange: "0.1.0", wantFull: "epics.bridge"},
		{name: "caret range", input: "epics.bridge@^0.1", wantApp: "epics", wantName: "bridge", wantRange: "^0.1", wantFull: "epics.bridge"},
		{name: "compound range", input: " epics.bridge@>=0.1.0 <1.0.0 ", wantApp: "epics", wantName: "bridge", wantRange: ">=0.1.0 <1.0.0", wantFull: "epics.bridge"},
		{name: "dotted name", input: "site.epics.bridge@1", wantApp: "site", wantName: "epics.bridge", wantRange: "1", wantFull: "site.epics.bridge"},
		{name: "missing app", input: "bridge@1", wantErr: true},
		{name: "empty name", input: "epics.@1", wantErr: true},
		{name: "uppercase app", input: "EPICS.bridge", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCapabilityRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error for %q, got %+v", parserTestPrefix, tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", parserTestPrefix, err)
			}
			if got.App != tt.wantApp {
				t.Errorf("%s - App = %q, want %q", parserTestPrefix, got.App, tt.wantApp)
			}
			if got.Name != tt.wantName {
				t.Errorf("%s - Name = %q, want %q", parserTestPrefix, got.Name, tt.wantName)
			}
			if got.Range != tt.wantRange {
				t.Errorf("%s - Range = %q, want %q", parserTestPrefix, got.Range, tt.wantRange)
			}
			if got.Full != tt.wantFull {
				t.Errorf("%s - Full = %q, want %q", parserTestPrefix, got.Full, tt.wantFull)
			}
		})
	}
}

func TestCapabilityRef_String(t *testing.T) {
	ref, err := ParseCapabilityRef("epics.bridge@^0.1")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", parserTestPrefix, err)
	}
	if ref.String() != "epics.bridge@^0.1" {
		t.Errorf("%s - String() = %q", parserTestPrefix, ref.String())
	}
}

func TestIsMajorOnly(t *testing.T) {
	for input, want := range map[string]bool{"0": true, "12": true, "1.2": false, "^1": false, "": false} {
		if got := IsMajorOnly(input); got != want {
			t.Errorf("%s - IsMajorOnly(%q) = %v, want %v", parserTestPrefix, input, got, want)
		}
	}
}

func TestIsExactVersion(t *testing.T) {
	for input, want := range map[string]bool{"0.1.0": true, "1.2.3-rc.1": true, "1.2": false, "^1.2.3": false} {
		if got := IsExactVersion(input); got != want {
			t.Errorf("%s - IsExactVersion(%q) = %v, want %v", parserTestPrefix, input, got, want)
		}
	}
}

func TestBuildCapabilityString(t *testing.T) {
	if got := BuildCapabilityString("epics", "bridge", ""); got != "epics.bridge" {
		t.Errorf("%s - got %q, want epics.bridge", parserTestPrefix, got)
	}
	if got := BuildCapabilityString("epics", "bridge", "0"); got != "epics.bridge@0" {
		t.Errorf("%s - got %q, want epics.bridge@0", parserTestPrefix, got)
	}
}
