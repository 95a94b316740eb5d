package throttle

import (
	"fmt"
	"strings"
	"time"
)

// Conditions describes an emulated network
type Conditions struct {
	Offline            bool          `json:"offline"`
	Latency            time.Duration `json:"latency"`
	DownloadThroughput float64       `json:"downloadThroughput"`
	UploadThroughput   float64       `json:"uploadThroughput"`
}

// NoConditions disables emulation
func NoConditions() Conditions {
	return Conditions{}
}

// OfflineConditions fails every non-upload transfer
func OfflineConditions() Conditions {
	return Conditions{Offline: true}
}

// IsThrottling reports whether latency or bandwidth limits apply
func (c Conditions) IsThrottling() bool {
	return !c.Offline && (c.Latency > 0 || c.DownloadThroughput > 0 || c.UploadThroughput > 0)
}

func (c Conditions) String() string {
	if c.Offline {
		return "offline"
	}
	if !c.IsThrottling() {
		return "none"
	}
	return fmt.Sprintf("latency=%s down=%.0fB/s up=%.0fB/s", c.Latency, c.DownloadThroughput, c.UploadThroughput)
}

var presets = map[string]Conditions{
	"none":    NoConditions(),
	"offline": OfflineConditions(),
	"slow-3g": {
		Latency:            2000 * time.Millisecond,
		DownloadThroughput: 400 * 1024 / 8,
		UploadThroughput:   400 * 1024 / 8,
	},
	"fast-3g": {
		Latency:            563 * time.Millisecond,
		DownloadThroughput: 1.6 * 1024 * 1024 / 8,
		UploadThroughput:   750 * 1024 / 8,
	},
	"regular-4g": {
		Latency:            20 * time.Millisecond,
		DownloadThroughput: 4 * 1024 * 1024 / 8,
		UploadThroughput:   3 * 1024 * 1024 / 8,
	},
}

// Preset looks up a built-in named condition set
func Preset(name string) (Conditions, bool) {
	c, ok := presets[strings.ToLower(name)]
	return c, ok
}

// PresetNames lists built-in preset names
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
