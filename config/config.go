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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Channel     *ChannelConfig  `yaml:"channel" json:"channel"`
	Overlay     *OverlayConfig  `yaml:"overlay" json:"overlay"`
	Transfer    *TransferConfig `yaml:"transfer" json:"transfer"`
	Relay       *RelayConfig    `yaml:"relay" json:"relay"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
}

// ChannelConfig configures the signed transport
type ChannelConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Seed        string   `yaml:"seed" json:"seed"`
	Heartbeat   Duration `yaml:"heartbeat" json:"heartbeat"`
	PeerTimeout Duration `yaml:"peer_timeout" json:"peer_timeout"`
}

// OverlayConfig configures the encrypted overlay
type OverlayConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	TrimInterval  Duration `yaml:"trim_interval" json:"trim_interval"`
	TrimThreshold int      `yaml:"trim_threshold" json:"trim_threshold"`
	TrimKeep      int      `yaml:"trim_keep" json:"trim_keep"`
}

// TransferConfig configures the file-transfer engine
type TransferConfig struct {
	ChunkSize          int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkDelay         Duration `yaml:"chunk_delay" json:"chunk_delay"`
	CacheTTL           Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheSweepInterval Duration `yaml:"cache_sweep_interval" json:"cache_sweep_interval"`
	MaxSweeps          int      `yaml:"max_sweeps" json:"max_sweeps"`
	SweepDelay         Duration `yaml:"sweep_delay" json:"sweep_delay"`
}

// RelayConfig points the node at a relay
type RelayConfig struct {
	URL         string   `yaml:"url" json:"url"`
	ListenAddr  string   `yaml:"listen_addr" json:"listen_addr"`
	DialTimeout Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{
		Channel:  &ChannelConfig{},
		Overlay:  &OverlayConfig{},
		Transfer: &TransferConfig{},
		Logging:  &LoggingConfig{},
	}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Channel != nil {
		if cfg.Channel.Name == "" {
			cfg.Channel.Name = "kunai"
		}
		if cfg.Channel.Heartbeat == 0 {
			cfg.Channel.Heartbeat = Duration(30 * time.Second)
		}
		if cfg.Channel.PeerTimeout == 0 {
			cfg.Channel.PeerTimeout = Duration(5 * time.Minute)
		}
	}

	if cfg.Overlay != nil {
		if cfg.Overlay.TrimInterval == 0 {
			cfg.Overlay.TrimInterval = Duration(5 * time.Minute)
		}
		if cfg.Overlay.TrimThreshold == 0 {
			cfg.Overlay.TrimThreshold = 1000
		}
		if cfg.Overlay.TrimKeep == 0 {
			cfg.Overlay.TrimKeep = 500
		}
	}

	if cfg.Transfer != nil {
		if cfg.Transfer.ChunkSize == 0 {
			cfg.Transfer.ChunkSize = 10000
		}
		if cfg.Transfer.ChunkDelay == 0 {
			cfg.Transfer.ChunkDelay = Duration(5 * time.Millisecond)
		}
		if cfg.Transfer.CacheTTL == 0 {
			cfg.Transfer.CacheTTL = Duration(5 * time.Minute)
		}
		if cfg.Transfer.CacheSweepInterval == 0 {
			cfg.Transfer.CacheSweepInterval = Duration(time.Minute)
		}
		if cfg.Transfer.MaxSweeps == 0 {
			cfg.Transfer.MaxSweeps = 5
		}
		if cfg.Transfer.SweepDelay == 0 {
			cfg.Transfer.SweepDelay = Duration(2 * time.Second)
		}
	}

	if cfg.Relay != nil {
		if cfg.Relay.DialTimeout == 0 {
			cfg.Relay.DialTimeout = Duration(30 * time.Second)
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stderr"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Addr == "" {
			cfg.Metrics.Addr = ":9464"
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}

	if cfg.Health != nil {
		if cfg.Health.Addr == "" {
			cfg.Health.Addr = ":8086"
		}
		if cfg.Health.Path == "" {
			cfg.Health.Path = "/health"
		}
	}
}
