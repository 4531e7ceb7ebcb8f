// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the hyperdiff YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/hyperdiff/pkg/logging"
	"github.com/AleutianAI/hyperdiff/pkg/telemetry"
	"github.com/AleutianAI/hyperdiff/services/hyperast/bloom"
	"github.com/AleutianAI/hyperdiff/services/hyperast/diff"
	"github.com/AleutianAI/hyperdiff/services/hyperast/ingest"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/bottomup"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/subtree"
	"github.com/AleutianAI/hyperdiff/services/hyperast/snapshot"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the root of hyperdiff.yaml.
type Config struct {
	Diff      DiffConfig       `yaml:"diff"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Snapshot  snapshot.Config  `yaml:"snapshot"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DiffConfig mirrors diff.Options with names instead of enums.
type DiffConfig struct {
	Algorithm     string           `yaml:"algorithm" validate:"oneof=subtree gumtree similarity leaf"`
	Variant       string           `yaml:"variant" validate:"oneof=greedy simple lazy hybrid"`
	Arena         string           `yaml:"arena" validate:"oneof=eager lazy"`
	MinHeight     int              `yaml:"min_height" validate:"gte=1"`
	MaxSize       int              `yaml:"max_size" validate:"gte=-1"`
	SimThreshold  similarity.Ratio `yaml:"sim_threshold"`
	LeafThreshold similarity.Ratio `yaml:"leaf_threshold"`
	Structural    bool             `yaml:"structural"`
	NoSpaces      bool             `yaml:"no_spaces"`
}

// IngestConfig tunes directory ingestion.
type IngestConfig struct {
	// MaxRefs is the reference count above which Bloom summaries give up.
	MaxRefs int `yaml:"max_refs" validate:"gte=1"`

	// Parallelism bounds concurrent parses; zero uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	// MaxFileSize skips larger files, in bytes.
	MaxFileSize int `yaml:"max_file_size" validate:"gte=1"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Diff: DiffConfig{
			Algorithm:     "subtree",
			Variant:       "greedy",
			Arena:         "eager",
			MinHeight:     subtree.DefaultMinHeight,
			MaxSize:       bottomup.DefaultMaxSize,
			SimThreshold:  similarity.Half,
			LeafThreshold: similarity.Half,
		},
		Ingest: IngestConfig{
			MaxRefs:     bloom.DefaultMaxRefs,
			MaxFileSize: ingest.DefaultMaxFileSize,
		},
		Snapshot: snapshot.Config{
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over the defaults and validates the result. Keys the
// file omits keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns Default otherwise.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// WriteDefault writes the default configuration to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field constraints, then the ratio invariants the tags
// cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for name, r := range map[string]similarity.Ratio{
		"diff.sim_threshold":  c.Diff.SimThreshold,
		"diff.leaf_threshold": c.Diff.LeafThreshold,
	} {
		if !r.Valid() {
			return fmt.Errorf("%w: %s %s is not within [0, 1]", ErrInvalidConfig, name, r)
		}
	}
	return nil
}

// DiffOptions converts the diff section. Labels, ExactProbe and Logger
// are left for the caller.
func (c Config) DiffOptions() (diff.Options, error) {
	opts := diff.DefaultOptions()
	var err error
	if opts.Algorithm, err = diff.ParseAlgorithm(c.Diff.Algorithm); err != nil {
		return diff.Options{}, err
	}
	if opts.Variant, err = bottomup.ParseVariant(c.Diff.Variant); err != nil {
		return diff.Options{}, err
	}
	if opts.Arena, err = diff.ParseArena(c.Diff.Arena); err != nil {
		return diff.Options{}, err
	}
	opts.MinHeight = c.Diff.MinHeight
	opts.MaxSize = c.Diff.MaxSize
	opts.SimThreshold = c.Diff.SimThreshold
	opts.LeafThreshold = c.Diff.LeafThreshold
	opts.Structural = c.Diff.Structural
	opts.NoSpaces = c.Diff.NoSpaces
	return opts, nil
}

// LoggerConfig converts the logging section for service.
func (c Config) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}, nil
}
