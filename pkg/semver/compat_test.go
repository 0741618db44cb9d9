package semver

import (
	"errors"
	"testing"
)

const compatTestPrefix = "semver:compat_test"

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		version string
		rng     string
		want    bool
	}{
		{"0.1.0", "", true},
		{"0.1.0", "0", true},
		{"0.1.0", "1", false},
		{"0.1.0", "^0.1", true},
		{"0.2.0", "^0.1", false},
		{"1.4.2", "~1.4.0", true},
		{"1.4.2", ">=1.0.0 <2.0.0", true},
		{"0.1.0", "0.1.0", true},
		{"0.1.1", "0.1.0", false},
		{"not-a-version", "", false},
		{"0.1.0", "^^", false},
	}

	for _, tt := range tests {
		if got := SatisfiesRange(tt.version, tt.rng); got != tt.want {
			t.Errorf("%s - SatisfiesRange(%q, %q) = %v, want %v", compatTestPrefix, tt.version, tt.rng, got, tt.want)
		}
	}
}

func TestMajorOf(t *testing.T) {
	major, err := MajorOf("2.5.1")
	if err != nil || major != 2 {
		t.Errorf("%s - MajorOf(2.5.1) = %d, %v", compatTestPrefix, major, err)
	}
	if _, err := MajorOf("latest"); err == nil {
		t.Errorf("%s - expected error for invalid version", compatTestPrefix)
	}
}

func TestCheckCapability(t *testing.T) {
	if err := CheckCapability("epics.bridge@^0.1", "epics.bridge", "0.1.0"); err != nil {
		t.Errorf("%s - unexpected error: %v", compatTestPrefix, err)
	}
	if err := CheckCapability("epics.bridge", "epics.bridge", "0.1.0"); err != nil {
		t.Errorf("%s - unexpected error without range: %v", compatTestPrefix, err)
	}

	cases := map[string]string{
		"epics.bridge@2":  "Version not satisfied",
		"epics.gateway@0": "Unknown capability epics.gateway",
		"bridge":          "Invalid capability reference",
	}
	for ref, reason := range cases {
		err := CheckCapability(ref, "epics.bridge", "0.1.0")
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("%s - %q: expected *MismatchError, got %v", compatTestPrefix, ref, err)
		}
		if mismatch.Reason != reason {
			t.Errorf("%s - %q: Reason = %q, want %q", compatTestPrefix, ref, mismatch.Reason, reason)
		}
	}
}
