// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// TestDefaultConfig_Valid checks the defaults pass validation.
func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, graph.PolicyFirstMatch, cfg.PolicyValue())
	assert.Zero(t, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Cache.ResultEntries)
}

// TestLoad_Formats checks every supported file format.
func TestLoad_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.yaml": "repository:\n  driver: file\n  path: data.yaml\nresolver:\n  policy: min_depth\ncache:\n  ttl: 5m\n",
		"c.json": `{"repository":{"driver":"file","path":"data.yaml"},"resolver":{"policy":"min_depth"},"cache":{"ttl":"5m"}}`,
		"c.toml": "[repository]\ndriver = \"file\"\npath = \"data.yaml\"\n[resolver]\npolicy = \"min_depth\"\n[cache]\nttl = \"5m\"\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "file", cfg.Repository.Driver)
			assert.Equal(t, "data.yaml", cfg.Repository.Path)
			assert.Equal(t, graph.PolicyMinDepth, cfg.PolicyValue())
			assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
			// Untouched sections keep their defaults.
			assert.Equal(t, graph.DefaultIcicleShardSize, cfg.Icicle.ShardSize)
			assert.True(t, cfg.Cache.VerifyInvariants)
		})
	}
}

// TestLoad_MissingFile checks the error path.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestApplyEnv checks environment overrides.
func TestApplyEnv(t *testing.T) {
	t.Setenv("CRAFTGRAPH_REPOSITORY_DRIVER", "sqlite")
	t.Setenv("CRAFTGRAPH_DATA", "/var/lib/craftgraph.db")
	t.Setenv("CRAFTGRAPH_POLICY", "min-breadth")
	t.Setenv("CRAFTGRAPH_CACHE_TTL", "90s")
	t.Setenv("CRAFTGRAPH_VERIFY_INVARIANTS", "false")
	t.Setenv("CRAFTGRAPH_ICICLE_WORKERS", "not-a-number")
	t.Setenv("CRAFTGRAPH_LOG_LEVEL", "DEBUG")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "/var/lib/craftgraph.db", cfg.Repository.Path)
	assert.Equal(t, graph.PolicyMinBreadth, cfg.PolicyValue())
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.False(t, cfg.Cache.VerifyInvariants)
	assert.Equal(t, graph.DefaultIcicleWorkers, cfg.Icicle.MaxWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

// TestValidate checks rejected configurations.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Repository.Driver = "postgres" }},
		{"file without path", func(c *Config) { c.Repository.Driver = "file" }},
		{"unknown policy", func(c *Config) { c.Resolver.Policy = "cheapest" }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"zero workers", func(c *Config) { c.Icicle.MaxWorkers = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = "otlp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// TestLoadConfig_Pipeline checks file then env then validation.
func TestLoadConfig_Pipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "craftgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolver:\n  policy: min_depth\n"), 0o644))
	t.Setenv("CRAFTGRAPH_POLICY", "first_match")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, graph.PolicyFirstMatch, cfg.PolicyValue())

	t.Setenv("CRAFTGRAPH_POLICY", "bogus")
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err = LoadConfig("")
	require.Error(t, err)
	assert.Nil(t, cfg)
}
