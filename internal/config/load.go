package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a geminid configuration file. Files ending in
// .properties are read as Java-style properties; anything else as YAML.
func Load(path string) (FileConfig, error) {
	var cfg FileConfig

	// Clean the path to prevent directory traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - Config file path is trusted (from admin/user)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(cleanPath), ".properties") {
		cfg, err = parseProperties(data)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfig loads path, applies environment overrides and builds the
// server configuration.
func LoadConfig(path string) (Config, error) {
	fc, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&fc); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	return fc.Build()
}
