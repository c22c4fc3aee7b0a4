// Package config provides configuration loading for memgate hosts.
//
// Precedence, highest first: MEMGATE_* environment variables, the YAML
// config file, hardcoded defaults. All pipeline bounds (queue capacities,
// provenance limits) live here; zero values fall back to the package
// defaults of the component they configure.
package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/memgate/internal/logging"
	"github.com/fyrsmithlabs/memgate/internal/provenance"
	"github.com/fyrsmithlabs/memgate/internal/review"
)

const (
	envPrefix         = "MEMGATE_"
	maxConfigFileSize = 1 << 20 // 1MB
)

// Config is the full host configuration.
type Config struct {
	Logging    logging.Config    `koanf:"logging"`
	Review     review.Limits     `koanf:"review"`
	Provenance provenance.Limits `koanf:"provenance"`
}

// Default returns the hardcoded defaults.
func Default() *Config {
	return &Config{
		Logging:    logging.DefaultConfig(),
		Review:     review.DefaultLimits(),
		Provenance: provenance.DefaultLimits(),
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from the YAML file at configPath (skipped when
// empty or absent), then overrides with MEMGATE_* environment variables.
//
// The config file must be owner-only (0600) on Unix; world-readable files
// are rejected. Files over 1MB are rejected.
//
// Environment variables split on the first underscore into section and
// field, e.g. MEMGATE_REVIEW_MAX_PENDING_PER_USER -> review.max_pending_per_user.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		// Section then field; field names keep their underscores.
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readConfigFile opens and validates the config file through one file
// descriptor, avoiding a stat-then-open race. Returns nil content when the
// file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if err := validateFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxConfigFileSize)
	}
	return content, nil
}

func validateFileProperties(info fs.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file exceeds %d bytes", maxConfigFileSize)
	}
	// Windows has no Unix permission bits worth checking.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("config file permissions %04o too open, want 0600", perm)
		}
	}
	return nil
}
