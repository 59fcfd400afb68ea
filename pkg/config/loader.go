package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates the configuration at path. This
// is the primary entry point cmd/tachikoma calls at startup. A missing
// file is not an error — the process runs entirely on Default() plus
// environment variables, which is enough for a quick local run.
func Initialize(ctx context.Context, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.WarnContext(ctx, "config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
		default:
			var fileCfg Config
			if err := yaml.Unmarshal(ExpandEnv(raw), &fileCfg); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
			}
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge config over defaults: %w", err)
			}
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return &cfg, nil
}
