package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scancam/scancam/internal/vision"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Decoder.GRPC) == "" {
		return nil, fmt.Errorf("decoder.grpc must not be empty")
	}
	if cfg.Decoder.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("decoder.dial_timeout_ms must be > 0")
	}
	if cfg.Decoder.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("decoder.request_timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Camera.Device) == "" {
		return nil, fmt.Errorf("camera.device must not be empty (use \"auto\" for automatic selection)")
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return nil, fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.FrameDepth <= 0 {
		return nil, fmt.Errorf("camera.frame_depth must be > 0")
	}
	if cfg.Scan.MinConfidence < 0 || cfg.Scan.MinConfidence > 1 {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("scan.min_confidence %.2f outside [0, 1]; it will be clamped", cfg.Scan.MinConfidence),
		})
	}
	if cfg.Scan.Workers <= 0 {
		return nil, fmt.Errorf("scan.workers must be > 0")
	}
	if cfg.Symbology.MaxFormats <= 0 {
		return nil, fmt.Errorf("symbology.max_formats must be > 0")
	}
	if cfg.History.Limit <= 0 {
		return nil, fmt.Errorf("history.limit must be > 0")
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "desktop" && backend != "none" {
		return nil, fmt.Errorf("indicator.backend must be one of: desktop, none")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.OutputCmd.Raw != "" && len(cfg.OutputCmd.Argv) == 0 {
		return nil, fmt.Errorf("output_cmd is configured but empty")
	}

	_, filterWarnings, err := BuildSymbologyFilter(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, filterWarnings...)

	return warnings, nil
}

// BuildSymbologyFilter merges enabled symbology sets into a deterministic
// decoder allow-list. An empty result means every format is accepted.
func BuildSymbologyFilter(cfg Config) ([]vision.Symbology, []Warning, error) {
	enabledSets := cfg.Symbology.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	warnings := make([]Warning, 0)
	selected := make(map[vision.Symbology]string)

	for _, name := range enabledSets {
		set, ok := cfg.Symbology.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("symbology.enable references unknown set %q", name)
		}
		for _, format := range set.Formats {
			symbology, err := vision.ParseSymbology(format)
			if err != nil {
				return nil, nil, fmt.Errorf("symbology set %q: %w", name, err)
			}
			if from, exists := selected[symbology]; exists && from != name {
				warnings = append(warnings, Warning{
					Message: fmt.Sprintf("format %q present in sets %q and %q", symbology, from, name),
				})
				continue
			}
			selected[symbology] = name
		}
	}

	if len(selected) > cfg.Symbology.MaxFormats {
		return nil, nil, fmt.Errorf("enabled format count %d exceeds symbology.max_formats=%d", len(selected), cfg.Symbology.MaxFormats)
	}

	formats := make([]vision.Symbology, 0, len(selected))
	for symbology := range selected {
		formats = append(formats, symbology)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })

	return formats, warnings, nil
}
