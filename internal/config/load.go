package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded is the scanner's effective configuration: the resolved file path,
// the parsed and validated values, and any non-fatal warnings to surface.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves the scancam config file, parses it as JSONC over the
// defaults, and validates the result. A missing file is not an error: the
// scanner runs on defaults and reports the absence as a warning.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	content, err := os.ReadFile(resolvedPath)
	if errors.Is(err, os.ErrNotExist) {
		return Loaded{
			Path:   resolvedPath,
			Config: Default(),
			Warnings: []Warning{{
				Message: fmt.Sprintf("config file %q not found; scanning with defaults", resolvedPath),
			}},
		}, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), Default())
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}
