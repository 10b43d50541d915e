// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads docshelf settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full docshelf configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	// DataDir overrides the platform data directory. Empty means
	// DataLocalDir().
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// PendingTimeout expires builds that never report back. Zero disables.
	PendingTimeout time.Duration `yaml:"pending_timeout" validate:"gte=0"`

	Builder BuilderConfig `yaml:"builder"`
	Index   IndexConfig   `yaml:"index"`
}

// BuilderConfig configures the documentation builder.
type BuilderConfig struct {
	Cargo         string        `yaml:"cargo" validate:"required"`
	Toolchain     string        `yaml:"toolchain" validate:"omitempty,startswith=+"`
	MaxConcurrent int64         `yaml:"max_concurrent" validate:"min=1,max=16"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
}

// IndexConfig configures the record index.
type IndexConfig struct {
	SyncWrites bool `yaml:"sync_writes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:       "info",
		PendingTimeout: time.Hour,
		Builder: BuilderConfig{
			Cargo:         "cargo",
			Toolchain:     "+nightly",
			MaxConcurrent: 2,
			Timeout:       30 * time.Minute,
		},
		Index: IndexConfig{SyncWrites: true},
	}
}

// Load reads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - YAML file. Empty or missing means defaults only.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file exists but is unreadable or invalid.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DOCSHELF_* variables. Unparseable values
// are ignored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCSHELF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DOCSHELF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCSHELF_CARGO"); v != "" {
		cfg.Builder.Cargo = v
	}
	if v := os.Getenv("DOCSHELF_MAX_CONCURRENT"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Builder.MaxConcurrent = i
		}
	}
	if v := os.Getenv("DOCSHELF_PENDING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PendingTimeout = d
		}
	}
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ResolveDataDir returns DataDir, or DataLocalDir() when it is empty.
func (c Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return DataLocalDir()
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
