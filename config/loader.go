// Copyright (C) 2025 scobru
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// EnvFile is an optional dotenv file loaded before anything else
	EnvFile string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
	}
}

// ValidationIssue reports one configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // error or warning
}

// Load loads configuration with automatic environment detection. A .env
// file, when present, seeds the process environment first.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	envFile := options.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Missing dotenv files are fine; explicit ones are not.
	if err := godotenv.Load(envFile); err != nil && options.EnvFile != "" {
		return nil, fmt.Errorf("failed to load env file %s: %w", options.EnvFile, err)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	// Environment-specific file first, then default.yaml, then config.yaml.
	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = Default()
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}
	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, issue := range ValidateConfiguration(cfg) {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if name := os.Getenv("KUNAI_CHANNEL"); name != "" && cfg.Channel != nil {
		cfg.Channel.Name = name
	}
	if seed := os.Getenv("KUNAI_SEED"); seed != "" && cfg.Channel != nil {
		cfg.Channel.Seed = seed
	}
	if url := os.Getenv("KUNAI_RELAY_URL"); url != "" {
		if cfg.Relay == nil {
			cfg.Relay = &RelayConfig{DialTimeout: Duration(30 * time.Second)}
		}
		cfg.Relay.URL = url
	}
	if logLevel := os.Getenv("KUNAI_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	if v := os.Getenv("KUNAI_METRICS_ENABLED"); v != "" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = v == "true"
	}
}

// ValidateConfiguration checks a loaded configuration for problems.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Channel != nil && cfg.Channel.Name == "" {
		issues = append(issues, ValidationIssue{
			Field:   "channel.name",
			Message: "channel name must not be empty",
			Level:   "error",
		})
	}
	if cfg.Transfer != nil && cfg.Transfer.ChunkDelay.Std() < 5*time.Millisecond {
		issues = append(issues, ValidationIssue{
			Field:   "transfer.chunk_delay",
			Message: "chunk delay below 5ms overwhelms the graph store",
			Level:   "error",
		})
	}
	if cfg.Transfer != nil && cfg.Transfer.ChunkSize < 0 {
		issues = append(issues, ValidationIssue{
			Field:   "transfer.chunk_size",
			Message: "chunk size must be positive",
			Level:   "error",
		})
	}
	if cfg.Overlay != nil && cfg.Overlay.TrimKeep > cfg.Overlay.TrimThreshold {
		issues = append(issues, ValidationIssue{
			Field:   "overlay.trim_keep",
			Message: "trim keep larger than threshold keeps the set unbounded",
			Level:   "warning",
		})
	}

	return issues
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
