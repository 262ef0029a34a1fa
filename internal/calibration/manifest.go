// Package calibration loads the per-module dark/reference calibration files
// the Attenuation stage needs at startup: constant initialisation data
// computed once from configuration.
//
// The calibration manifest itself is a supplemental feature: the original
// hardcodes the file naming convention (dark_192.168.100_DetModNr_<i>.fx);
// here the mapping from module index to file path, plus any per-module
// geometry override, lives in a small YAML manifest next to the JSON run
// config, grounded on orion-prototipe/internal/config's use of
// gopkg.in/yaml.v3 for exactly this kind of small, hand-edited operator
// document.
package calibration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Geometry is a per-module set of Attenuation's relevant-area mask
// parameters, parsed from the manifest and carried on its ModuleEntry. The
// Attenuation stage does not apply it: it uses the run config's global
// values for every module, whether or not an entry has a Geometry.
type Geometry struct {
	SourceOffset    float64 `yaml:"source_offset"`
	XA              float64 `yaml:"xa"`
	XB              float64 `yaml:"xb"`
	XC              float64 `yaml:"xc"`
	XD              float64 `yaml:"xd"`
	XE              float64 `yaml:"xe"`
	XF              float64 `yaml:"xf"`
	LowerLimOffset  float64 `yaml:"lower_lim_offset"`
	UpperLimOffset  float64 `yaml:"upper_lim_offset"`
}

// ModuleEntry is one detector module's calibration files.
type ModuleEntry struct {
	Index     int       `yaml:"index"`
	Dark      string    `yaml:"dark"`
	Reference string    `yaml:"reference"`
	Geometry  *Geometry `yaml:"geometry,omitempty"`
}

// Manifest is the parsed calib_manifest.yaml.
type Manifest struct {
	Modules []ModuleEntry `yaml:"modules"`
}

// LoadManifest reads and parses a calibration manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calibration: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("calibration: parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Module returns the entry for the given 1-based module index, or an error
// if the manifest has no such module.
func (m *Manifest) Module(index int) (ModuleEntry, error) {
	for _, e := range m.Modules {
		if e.Index == index {
			return e, nil
		}
	}
	return ModuleEntry{}, fmt.Errorf("calibration: no manifest entry for module %d", index)
}
