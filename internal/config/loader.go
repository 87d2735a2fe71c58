// Package config loads, merges and validates an indexer configuration
// file, following the teacher's auto-detect-by-extension loader pattern,
// extended with an environment-variable override pass.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	pkgconfig "github.com/swarmstats/indexer/pkg/config"
)

// EnvPrefix is the prefix every environment-variable override must carry,
// e.g. SWARMSTATS__RPC__URL.
const EnvPrefix = "SWARMSTATS"

// LoadFromFile loads configuration from path, auto-detecting the format
// by extension, then applies environment overrides, defaults and
// validation.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return process(cfg)
}

func readFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return readYAML(path)
	case ".json":
		return readJSON(path)
	case ".toml":
		return readTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format %q (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

func readYAML(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg pkgconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML config: %w", err)
	}
	return &cfg, nil
}

func readJSON(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg pkgconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse JSON config: %w", err)
	}
	return &cfg, nil
}

func readTOML(path string) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse TOML config: %w", err)
	}
	return &cfg, nil
}

// process applies environment overrides, then defaults, then validation —
// the same three-step pipeline every LoadFrom* entry point funnels
// through.
func process(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides scans environ for SWARMSTATS__SECTION__KEY entries and
// assigns them onto the scalar fields they name. Only the handful of keys
// operators actually need to override per-deployment (RPC URL, database
// connection string, blockchain chunk size and finality, retry tuning) are
// wired; contracts[] and
// address_tracking are file-only, since they are structural rather than
// per-environment.
func applyEnvOverrides(cfg *pkgconfig.Config, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		prefix := EnvPrefix + "__"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(name, prefix), "__")
		if err := assign(cfg, path, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func assign(cfg *pkgconfig.Config, path []string, value string) error {
	if len(path) != 2 {
		return fmt.Errorf("expected SECTION__KEY, got %d path segments", len(path))
	}
	section, key := strings.ToLower(path[0]), strings.ToLower(path[1])

	switch section {
	case "rpc":
		if key == "url" {
			cfg.RPC.URL = value
			return nil
		}
	case "database":
		if key == "connection_string" {
			cfg.Database.ConnectionString = value
			return nil
		}
	case "blockchain":
		switch key {
		case "chunk_size":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("parse uint: %w", err)
			}
			cfg.Blockchain.ChunkSize = n
			return nil
		case "finality":
			cfg.Blockchain.Finality = value
			return nil
		}
	case "retry":
		switch key {
		case "max_retries":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("parse int: %w", err)
			}
			cfg.Retry.MaxRetries = n
			return nil
		case "initial_delay_ms":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("parse uint: %w", err)
			}
			cfg.Retry.InitialDelayMs = n
			return nil
		}
	}
	return fmt.Errorf("unrecognised override %s.%s", section, key)
}
