// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads engine configuration.
//
// Precedence, lowest first: DefaultConfig, the config file (yaml, json or
// toml by extension), CRAFTGRAPH_* environment variables. Command-line
// flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the engine configuration.
type Config struct {
	Repository RepositoryConfig `koanf:"repository"`
	Resolver   ResolverConfig   `koanf:"resolver"`
	Cache      CacheConfig      `koanf:"cache"`
	Icicle     IcicleConfig     `koanf:"icicle"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// RepositoryConfig selects the data source.
type RepositoryConfig struct {
	Driver     string `koanf:"driver" validate:"oneof=memory file sqlite badger"`
	Path       string `koanf:"path" validate:"required_unless=Driver memory"`
	MaxRecipes int    `koanf:"max_recipes" validate:"gte=0"`
}

// ResolverConfig holds the default path policy.
type ResolverConfig struct {
	Policy string `koanf:"policy" validate:"policy"`
}

// CacheConfig configures the analysis cache.
type CacheConfig struct {
	// TTL is the entry lifetime. Zero disables expiry.
	TTL              time.Duration `koanf:"ttl" validate:"gte=0"`
	VerifyInvariants bool          `koanf:"verify_invariants"`
	ResultEntries    int           `koanf:"result_entries" validate:"gte=1,lte=1000"`
	ResultTTL        time.Duration `koanf:"result_ttl" validate:"gte=0"`

	// MinRebuildInterval spaces rebuilds triggered by the file watcher.
	MinRebuildInterval time.Duration `koanf:"min_rebuild_interval" validate:"gte=0"`
}

// IcicleConfig configures icicle layout.
type IcicleConfig struct {
	DefaultLimit int `koanf:"default_limit" validate:"gte=0"`
	ShardSize    int `koanf:"shard_size" validate:"gte=1"`
	MaxWorkers   int `koanf:"max_workers" validate:"gte=1,lte=64"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
	Dir   string `koanf:"dir"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `koanf:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `koanf:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `koanf:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Repository: RepositoryConfig{
			Driver: "memory",
		},
		Resolver: ResolverConfig{
			Policy: graph.PolicyFirstMatch.String(),
		},
		Cache: CacheConfig{
			VerifyInvariants: true,
			ResultEntries:    10,
			ResultTTL:        time.Hour,

			MinRebuildInterval: time.Second,
		},
		Icicle: IcicleConfig{
			DefaultLimit: 0,
			ShardSize:    graph.DefaultIcicleShardSize,
			MaxWorkers:   graph.DefaultIcicleWorkers,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
	}
}

// Load reads path over the defaults. The parser is picked by extension;
// unknown extensions are parsed as TOML.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig is the full pipeline: defaults, optional file, environment,
// validation. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CRAFTGRAPH_* environment variables.
// Unparseable values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CRAFTGRAPH_REPOSITORY_DRIVER"); v != "" {
		c.Repository.Driver = v
	}
	if v := os.Getenv("CRAFTGRAPH_DATA"); v != "" {
		c.Repository.Path = v
	}
	if v := os.Getenv("CRAFTGRAPH_MAX_RECIPES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Repository.MaxRecipes = i
		}
	}

	if v := os.Getenv("CRAFTGRAPH_POLICY"); v != "" {
		c.Resolver.Policy = v
	}

	if v := os.Getenv("CRAFTGRAPH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("CRAFTGRAPH_VERIFY_INVARIANTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.VerifyInvariants = b
		}
	}

	if v := os.Getenv("CRAFTGRAPH_ICICLE_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Icicle.DefaultLimit = i
		}
	}
	if v := os.Getenv("CRAFTGRAPH_ICICLE_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Icicle.MaxWorkers = i
		}
	}

	if v := os.Getenv("CRAFTGRAPH_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CRAFTGRAPH_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.JSON = b
		}
	}
	if v := os.Getenv("CRAFTGRAPH_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}

	if v := os.Getenv("CRAFTGRAPH_TRACE_EXPORTER"); v != "" {
		c.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("CRAFTGRAPH_METRIC_EXPORTER"); v != "" {
		c.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// PolicyValue returns the parsed resolver policy. Call after Validate.
func (c *Config) PolicyValue() graph.Policy {
	p, _ := graph.ParsePolicy(c.Resolver.Policy)
	return p
}

var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("policy", func(fl validator.FieldLevel) bool {
		_, err := graph.ParsePolicy(fl.Field().String())
		return err == nil
	})
	return v
}
