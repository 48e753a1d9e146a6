// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/craftgraph/pkg/logging"
	"github.com/AleutianAI/craftgraph/pkg/ux"
	"github.com/AleutianAI/craftgraph/services/recipegraph"
	"github.com/AleutianAI/craftgraph/services/recipegraph/config"
	"github.com/AleutianAI/craftgraph/services/recipegraph/repository"
	"github.com/AleutianAI/craftgraph/services/recipegraph/telemetry"
)

// errNotFound marks a query for an unknown or uncraftable item.
var errNotFound = errors.New("not found")

// notFoundError carries the item that was not found.
type notFoundError struct {
	Item string
}

func (e *notFoundError) Error() string { return fmt.Sprintf("item %q not found", e.Item) }

func (e *notFoundError) Is(target error) bool { return target == errNotFound }

// globalOptions are the root persistent flags.
type globalOptions struct {
	configPath string
	dataPath   string
	driver     string
	policy     string
	output     string
	logLevel   string
}

// app is the per-invocation runtime: config, logger, telemetry and engine.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	engine  *recipegraph.Engine
	out     io.Writer
	printer *ux.Printer
	format  string

	shutdownTelemetry func(context.Context) error
}

// newApp loads configuration, applies flag overrides and opens the
// repository.
//
// Precedence, lowest first: built-in defaults, config file, CRAFTGRAPH_*
// environment, command-line flags.
func newApp(ctx context.Context, opts *globalOptions, out, errOut io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format := strings.ToLower(opts.output)
	if format != "table" && format != "json" {
		return nil, fmt.Errorf("unknown output format %q (want table or json)", opts.output)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "craftgraph",
		JSON:    cfg.Logging.JSON,
		Output:  errOut,
	})

	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.Output = errOut
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		logger.Close()
		return nil, err
	}

	repo, err := repository.Open(ctx, cfg.Repository.Driver, cfg.Repository.Path)
	if err != nil {
		_ = shutdown(ctx)
		logger.Close()
		return nil, fmt.Errorf("open %s repository: %w", cfg.Repository.Driver, err)
	}

	engine, err := recipegraph.NewEngine(repo, cfg, logger.Slog())
	if err != nil {
		_ = shutdown(ctx)
		logger.Close()
		return nil, err
	}

	color := false
	if f, ok := out.(*os.File); ok && format == "table" {
		color = ux.ColorEnabled(f)
	}

	return &app{
		cfg:               cfg,
		logger:            logger,
		engine:            engine,
		out:               out,
		printer:           ux.NewPrinter(out, color),
		format:            format,
		shutdownTelemetry: shutdown,
	}, nil
}

// applyFlags overrides cfg with flags that were set.
func applyFlags(cfg *config.Config, opts *globalOptions) {
	if opts.dataPath != "" {
		cfg.Repository.Path = opts.dataPath
		if opts.driver == "" {
			cfg.Repository.Driver = driverFor(opts.dataPath)
		}
	}
	if opts.driver != "" {
		cfg.Repository.Driver = opts.driver
	}
	if opts.policy != "" {
		cfg.Resolver.Policy = opts.policy
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(opts.logLevel)
	}
}

// driverFor picks a repository driver from a data path's extension.
func driverFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	case ".badger":
		return "badger"
	default:
		return "file"
	}
}

// close releases the engine, telemetry and logger.
func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("closing repository", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	a.logger.Close()
}
