package ca

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const seedLogPrefix = "ca:seed"

// SeedFile is the on-disk layout of a simulator seed (YAML, or JSON which YAML accepts).
type SeedFile struct {
	Name string           `yaml:"name" json:"name"`
	PVs  map[string]SimPV `yaml:"pvs" json:"pvs"`
}

// LoadSeed loads simulator PVs. It tries the given paths in order, then
// EPICS_SIM_SEED_FILE, then config/sim-pvs.yaml and sim-pvs.yaml. When none can
// be read it falls back to DefaultSeed.
func LoadSeed(paths ...string) (map[string]SimPV, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("EPICS_SIM_SEED_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/sim-pvs.yaml", "sim-pvs.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		pvs, err := ParseSeed(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse seed file %s: %v", seedLogPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded %d simulated PVs from %s", seedLogPrefix, len(pvs), p))
		return pvs, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default simulated PVs", seedLogPrefix))
	return DefaultSeed(), nil
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (map[string]SimPV, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%s - invalid seed: %w", seedLogPrefix, err)
	}
	if len(seed.PVs) == 0 {
		return nil, fmt.Errorf("%s - seed defines no pvs", seedLogPrefix)
	}
	for name, pv := range seed.PVs {
		pv.Value = normalizeYAML(pv.Value)
		seed.PVs[name] = pv
	}
	return seed.PVs, nil
}

// DefaultSeed returns a small demonstration IOC.
func DefaultSeed() map[string]SimPV {
	return map[string]SimPV{
		"temperature:water": {Value: 42.0, Type: TypeDouble, Units: "degC"},
		"pressure:vessel":   {Value: 1.013, Type: TypeDouble, Units: "bar"},
		"pump:speed:rpm":    {Value: int64(1450), Type: TypeLong, Units: "rpm"},
		"valve:inlet:state": {Value: "CLOSED", Type: TypeEnum},
		"sim:readonly":      {Value: "locked", Type: TypeString, Fail: FailReadOnly},
		"sim:unreachable":   {Value: 0.0, Type: TypeDouble, Fail: FailTimeout},
	}
}

// normalizeYAML maps yaml.v3 integer decoding onto the int64 used by ParseValue.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}
