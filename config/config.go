// Copyright (C) 2025 sage-x-project
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
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// Config represents the main configuration structure for a relay client.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Relay       *RelayConfig    `yaml:"relay" json:"relay"`
	Session     *SessionConfig  `yaml:"session" json:"session"`
	Handshake   *HandshakeConfig `yaml:"handshake" json:"handshake"`
	Storage     *StorageConfig  `yaml:"storage" json:"storage"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
}

// RelayConfig describes how to reach the untrusted pub/sub relay.
type RelayConfig struct {
	URL               string        `yaml:"url" json:"url"`
	ReconnectInitial  time.Duration `yaml:"reconnect_initial" json:"reconnect_initial"`
	ReconnectMax      time.Duration `yaml:"reconnect_max" json:"reconnect_max"`
	HistoryPageSize   int           `yaml:"history_page_size" json:"history_page_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// SessionConfig controls session lifetime and cleanup.
type SessionConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxIdleTime     time.Duration `yaml:"max_idle_time" json:"max_idle_time"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	MaxSessions     int           `yaml:"max_sessions" json:"max_sessions"`
}

// HandshakeConfig controls the two-phase handshake timing.
type HandshakeConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	OTPDeadline  time.Duration `yaml:"otp_deadline" json:"otp_deadline"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// StorageConfig selects and configures the session/KV store backend.
type StorageConfig struct {
	Type     string `yaml:"type" json:"type"` // "memory" or "postgres"
	Postgres *PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig configures the pgx-backed store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConns        int32         `yaml:"max_conns" json:"max_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
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

	// Set defaults
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	// Determine format by extension
	var data []byte
	var err error

	if path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay == nil {
		cfg.Relay = &RelayConfig{}
	}
	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	if cfg.Handshake == nil {
		cfg.Handshake = &HandshakeConfig{}
	}
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}

	if cfg.Relay != nil {
		if cfg.Relay.ReconnectInitial == 0 {
			cfg.Relay.ReconnectInitial = 500 * time.Millisecond
		}
		if cfg.Relay.ReconnectMax == 0 {
			cfg.Relay.ReconnectMax = 5 * time.Second
		}
		if cfg.Relay.HistoryPageSize == 0 {
			cfg.Relay.HistoryPageSize = 100
		}
		if cfg.Relay.WriteTimeout == 0 {
			cfg.Relay.WriteTimeout = 10 * time.Second
		}
	}

	if cfg.Session != nil {
		if cfg.Session.DefaultTTL == 0 {
			cfg.Session.DefaultTTL = protocol.DefaultSessionTTL
		}
		if cfg.Session.MaxIdleTime == 0 {
			cfg.Session.MaxIdleTime = 30 * time.Minute
		}
		if cfg.Session.CleanupInterval == 0 {
			cfg.Session.CleanupInterval = 5 * time.Minute
		}
		if cfg.Session.MaxSessions == 0 {
			cfg.Session.MaxSessions = 10000
		}
	}

	if cfg.Handshake != nil {
		if cfg.Handshake.Timeout == 0 {
			cfg.Handshake.Timeout = protocol.DefaultRequestTTL
		}
		if cfg.Handshake.OTPDeadline == 0 {
			cfg.Handshake.OTPDeadline = protocol.DefaultOTPDeadline
		}
		if cfg.Handshake.MaxRetries == 0 {
			cfg.Handshake.MaxRetries = 3
		}
		if cfg.Handshake.RetryBackoff == 0 {
			cfg.Handshake.RetryBackoff = 1 * time.Second
		}
	}

	if cfg.Storage != nil {
		if cfg.Storage.Type == "" {
			cfg.Storage.Type = "memory"
		}
		if cfg.Storage.Postgres != nil {
			if cfg.Storage.Postgres.MaxConns == 0 {
				cfg.Storage.Postgres.MaxConns = 10
			}
			if cfg.Storage.Postgres.ConnectTimeout == 0 {
				cfg.Storage.Postgres.ConnectTimeout = 5 * time.Second
			}
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
			cfg.Logging.Output = "stdout"
		}
	}
}
