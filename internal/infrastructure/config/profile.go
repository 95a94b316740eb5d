package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
)

var ErrUnsupportedFormat = errors.New("unsupported profile format")

// Profile is a shell profile file: named emulation presets and directories
// served under custom schemes.
type Profile struct {
	Name      string            `json:"name" yaml:"name" toml:"name"`
	Emulation string            `json:"emulation" yaml:"emulation" toml:"emulation"`
	Presets   map[string]Preset `json:"presets" yaml:"presets" toml:"presets"`
	Mounts    []Mount           `json:"mounts" yaml:"mounts" toml:"mounts"`
}

// Preset is a portable form of throttle conditions. Latency is in
// milliseconds, throughput in bytes per second.
type Preset struct {
	Offline            bool    `json:"offline" yaml:"offline" toml:"offline"`
	LatencyMs          float64 `json:"latency_ms" yaml:"latency_ms" toml:"latency_ms"`
	DownloadThroughput float64 `json:"download_throughput" yaml:"download_throughput" toml:"download_throughput"`
	UploadThroughput   float64 `json:"upload_throughput" yaml:"upload_throughput" toml:"upload_throughput"`
}

// Conditions converts the preset
func (p Preset) Conditions() throttle.Conditions {
	return throttle.Conditions{
		Offline:            p.Offline,
		Latency:            time.Duration(p.LatencyMs * float64(time.Millisecond)),
		DownloadThroughput: p.DownloadThroughput,
		UploadThroughput:   p.UploadThroughput,
	}
}

// Mount serves Dir under Scheme
type Mount struct {
	Scheme string `json:"scheme" yaml:"scheme" toml:"scheme"`
	Dir    string `json:"dir" yaml:"dir" toml:"dir"`
}

// LoadProfile reads a profile, choosing the decoder by file extension.
// Relative mount directories resolve against the profile's directory.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	case ".json":
		err = sonic.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", filepath.Base(path), err)
	}

	base := filepath.Dir(path)
	for i, m := range p.Mounts {
		if m.Scheme == "" || m.Dir == "" {
			return nil, fmt.Errorf("profile mount %d: scheme and dir are required", i)
		}
		if !filepath.IsAbs(m.Dir) {
			p.Mounts[i].Dir = filepath.Join(base, m.Dir)
		}
	}
	return &p, nil
}

// Resolve looks a preset up in the profile, then among built-in presets
func (p *Profile) Resolve(name string) (throttle.Conditions, bool) {
	if p != nil {
		if preset, ok := p.Presets[name]; ok {
			return preset.Conditions(), true
		}
	}
	return throttle.Preset(name)
}

// PresetNames lists profile and built-in preset names
func (p *Profile) PresetNames() []string {
	seen := make(map[string]bool)
	var names []string
	if p != nil {
		for name := range p.Presets {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range throttle.PresetNames() {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}
