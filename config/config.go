// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package config loads settlement.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/settlement/resolver"
	"github.com/luxfi/settlement/storage"
)

// Config represents the full settlement.yaml configuration
type Config struct {
	Data    DataConfig         `yaml:"data"`
	Storage StorageConfig      `yaml:"storage"`
	Server  ServerConfig       `yaml:"server"`
	Chains  map[string]string  `yaml:"chains,omitempty"`
	Prices  map[string]float64 `yaml:"prices,omitempty"`
}

// DataConfig holds dataset file locations
type DataConfig struct {
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Catalog string `yaml:"catalog"`
	Cases   string `yaml:"cases,omitempty"`
}

// StorageConfig selects the dataset store
type StorageConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url,omitempty"`
	DataDir string `yaml:"data_dir"`
	KVPath  string `yaml:"kv_path,omitempty"`
}

// ServerConfig configures the lookup API
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Input:   "output/settlement_times.json",
			Output:  "output/settlement_times_populated.json",
			Catalog: "run/chain_data.json",
			Cases:   "tests/test_cases.csv",
		},
		Storage: StorageConfig{
			Backend: string(storage.BackendSQLite),
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port: 4100,
		},
	}
}

func defaultDataDir() string {
	if env := os.Getenv("DATA_DIR"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".settlement"
	}
	return filepath.Join(home, ".lux", "settlement")
}

// Load loads configuration from a YAML file, starting from Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration after expanding environment variables
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if _, err := storage.ParseBackend(c.Storage.Backend); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	for sym, p := range c.Prices {
		if p < 0 {
			return fmt.Errorf("invalid price for %s: %v", sym, p)
		}
	}
	return nil
}

// ChainTable returns the default chain table extended with configured chains
func (c *Config) ChainTable() *resolver.ChainTable {
	t := resolver.DefaultChains()
	for name, id := range c.Chains {
		t.Add(name, strings.TrimSpace(id))
	}
	return t
}

// PriceTable returns the default price table with configured overrides
func (c *Config) PriceTable() *resolver.PriceTable {
	t := resolver.DefaultPrices()
	for sym, p := range c.Prices {
		t.Set(sym, p)
	}
	return t
}

// StorageOptions converts the storage section into store options
func (c *Config) StorageOptions() (storage.Config, error) {
	backend, err := storage.ParseBackend(c.Storage.Backend)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Backend: backend,
		URL:     c.Storage.URL,
		DataDir: c.Storage.DataDir,
	}, nil
}
