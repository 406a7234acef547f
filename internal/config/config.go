// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the consumer runtime's configuration from an
// optional YAML file, layered with environment-variable overrides per §6.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
)

const configVersion = "1"

// Config is the full set of recognised keys from §6.
type Config struct {
	Version string `yaml:"version"`

	Bus   BusConfig           `yaml:"bus"`
	Store StoreConfig         `yaml:"store"`
	Svc   ServiceConfig       `yaml:"services"`
	Tune  TuningConfig        `yaml:"tuning"`
	Obs   ObservabilityConfig `yaml:"observability"`
}

type BusConfig struct {
	BootstrapServers string `yaml:"bootstrap_servers"`
	ConsumerGroup    string `yaml:"consumer_group"`
}

type StoreConfig struct {
	VectorStoreURL     string `yaml:"vector_store_url"`
	VectorDimension    uint64 `yaml:"vector_dimension"`
	GraphStoreURL      string `yaml:"graph_store_url"`
	GraphStoreUser     string `yaml:"graph_store_user"`
	GraphStorePassword string `yaml:"graph_store_password"`
	GraphStoreDatabase string `yaml:"graph_store_database"`
}

type ServiceConfig struct {
	IntelligenceURL     string `yaml:"intelligence_url"`
	MetadataStampingURL string `yaml:"metadata_stamping_url"`
}

type TuningConfig struct {
	ConsumerInstances   int `yaml:"consumer_instances"`
	ConsumerWorkers     int `yaml:"consumer_workers"`
	MaxConcurrentFiles  int `yaml:"max_concurrent_files"`
	MaxFileSizeMB       int `yaml:"max_file_size_mb"`
	HTTPTotalTimeoutSec int `yaml:"http_total_timeout_sec"`
}

type ObservabilityConfig struct {
	HealthPort int    `yaml:"health_port"`
	LogLevel   string `yaml:"log_level"`
}

// DefaultConfig returns §6's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Bus: BusConfig{
			ConsumerGroup: "enrichment-consumer",
		},
		Store: StoreConfig{
			VectorDimension: 1536,
		},
		Tune: TuningConfig{
			ConsumerInstances:   4,
			ConsumerWorkers:     8,
			MaxConcurrentFiles:  5,
			MaxFileSizeMB:       10,
			HTTPTotalTimeoutSec: 30,
		},
		Obs: ObservabilityConfig{
			HealthPort: 8900,
			LogLevel:   "info",
		},
	}
}

// Load reads configPath if non-empty (YAML), starts from DefaultConfig
// otherwise, then layers environment overrides on top.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, apperr.NewConfig("cannot read configuration file", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.NewConfig("invalid configuration YAML", configPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Bus.BootstrapServers == "" {
		return nil, apperr.NewConfig("BUS_BOOTSTRAP_SERVERS is required", "", nil)
	}
	if cfg.Store.VectorStoreURL == "" {
		return nil, apperr.NewConfig("VECTOR_STORE_URL is required", "", nil)
	}
	if cfg.Store.GraphStoreURL == "" {
		return nil, apperr.NewConfig("GRAPH_STORE_URL is required", "", nil)
	}
	if cfg.Svc.IntelligenceURL == "" {
		return nil, apperr.NewConfig("INTELLIGENCE_URL is required", "", nil)
	}

	return cfg, nil
}

// applyEnvOverrides applies every §6 environment key over the file-based
// (or default) configuration.
func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setUint := func(dst *uint64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Bus.BootstrapServers, "BUS_BOOTSTRAP_SERVERS")
	setStr(&c.Bus.ConsumerGroup, "BUS_CONSUMER_GROUP")

	setStr(&c.Store.VectorStoreURL, "VECTOR_STORE_URL")
	setUint(&c.Store.VectorDimension, "VECTOR_STORE_DIMENSION")
	setStr(&c.Store.GraphStoreURL, "GRAPH_STORE_URL")
	setStr(&c.Store.GraphStoreUser, "GRAPH_STORE_USER")
	setStr(&c.Store.GraphStorePassword, "GRAPH_STORE_PASSWORD")
	setStr(&c.Store.GraphStoreDatabase, "GRAPH_STORE_DATABASE")

	setStr(&c.Svc.IntelligenceURL, "INTELLIGENCE_URL")
	setStr(&c.Svc.MetadataStampingURL, "METADATA_STAMPING_URL")

	setInt(&c.Tune.ConsumerWorkers, "CONSUMER_WORKERS")
	setInt(&c.Tune.MaxConcurrentFiles, "MAX_CONCURRENT_FILES")
	setInt(&c.Tune.MaxFileSizeMB, "MAX_FILE_SIZE_MB")
	setInt(&c.Tune.HTTPTotalTimeoutSec, "HTTP_TOTAL_TIMEOUT_SEC")

	setInt(&c.Obs.HealthPort, "HEALTH_PORT")
	setStr(&c.Obs.LogLevel, "LOG_LEVEL")
}

// HasStamping reports whether a metadata-stamping URL was configured,
// the input to §4.5's once-at-startup mode decision.
func (c *Config) HasStamping() bool {
	return c.Svc.MetadataStampingURL != ""
}

func (c *Config) String() string {
	return fmt.Sprintf("bus=%s store=%s/%s services=%s workers=%d",
		c.Bus.BootstrapServers, c.Store.VectorStoreURL, c.Store.GraphStoreURL,
		c.Svc.IntelligenceURL, c.Tune.ConsumerWorkers)
}
