package camera

import (
	_ "embed"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profileData []byte

// Profile describes how ffmpeg reaches one family of capture devices.
type Profile struct {
	Name      string   `yaml:"name"`
	OS        []string `yaml:"os"`
	Format    string   `yaml:"format"`
	Device    string   `yaml:"device"`
	InputArgs []string `yaml:"input_args"`
}

// DevicePath renders the profile's device template for index.
func (p Profile) DevicePath(index int) string {
	return strings.ReplaceAll(p.Device, "{index}", strconv.Itoa(index))
}

// Profiles is the decoded profile table.
type Profiles struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles decodes the embedded profile table.
func LoadProfiles() (Profiles, error) {
	return parseProfiles(profileData)
}

func parseProfiles(data []byte) (Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profiles{}, fmt.Errorf("decode capture profiles: %w", err)
	}
	for i, profile := range p.Profiles {
		if strings.TrimSpace(profile.Name) == "" {
			return Profiles{}, fmt.Errorf("capture profile %d: name is required", i)
		}
		if strings.TrimSpace(profile.Format) == "" || strings.TrimSpace(profile.Device) == "" {
			return Profiles{}, fmt.Errorf("capture profile %q: format and device are required", profile.Name)
		}
	}
	return p, nil
}

// ForCurrentOS returns the profiles usable on the running platform.
func (p Profiles) ForCurrentOS() []Profile {
	return p.forOS(runtime.GOOS)
}

func (p Profiles) forOS(goos string) []Profile {
	var out []Profile
	for _, profile := range p.Profiles {
		if len(profile.OS) == 0 || slices.Contains(profile.OS, goos) {
			out = append(out, profile)
		}
	}
	return out
}
