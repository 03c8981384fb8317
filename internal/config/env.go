package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides overrides config values with environment variables if set
// Returns error for invalid environment variable values to fail fast
func applyEnvOverrides(cfg *FileConfig) error {
	if root := os.Getenv("GEMINID_ROOT"); root != "" {
		cfg.Root = root
	}
	if host := os.Getenv("GEMINID_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("GEMINID_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid GEMINID_PORT %q: %w", port, err)
		}
		cfg.Port = p
	}
	if cgiDir := os.Getenv("GEMINID_CGI_DIR"); cgiDir != "" {
		cfg.CGIDir = cgiDir
	}
	if workers := os.Getenv("GEMINID_NUM_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid GEMINID_NUM_WORKERS %q: %w", workers, err)
		}
		cfg.NumWorkers = n
	}

	// Observability
	if level := os.Getenv("GEMINID_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if endpoint := os.Getenv("GEMINID_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}

	return nil
}

// parseBool parses boolean configuration values
// Accepts: "true", "1", "yes", "on" for true; "false", "0", "no", "off" for false
func parseBool(value string) (bool, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}
