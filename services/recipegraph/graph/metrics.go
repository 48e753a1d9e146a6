// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("craftgraph.graph")
	meter  = otel.Meter("craftgraph.graph")
)

// Metrics for snapshot builds and analyses.
var (
	buildLatency    metric.Float64Histogram
	buildTotal      metric.Int64Counter
	itemsIndexed    metric.Int64Histogram
	recipesIndexed  metric.Int64Histogram
	analysisLatency metric.Float64Histogram
	resolveTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"recipegraph_snapshot_build_duration_seconds",
			metric.WithDescription("Duration of snapshot builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"recipegraph_snapshot_build_total",
			metric.WithDescription("Total number of snapshot builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsIndexed, err = meter.Int64Histogram(
			"recipegraph_snapshot_items",
			metric.WithDescription("Number of items indexed per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recipesIndexed, err = meter.Int64Histogram(
			"recipegraph_snapshot_recipes",
			metric.WithDescription("Number of usable recipes indexed per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisLatency, err = meter.Float64Histogram(
			"recipegraph_analysis_duration_seconds",
			metric.WithDescription("Duration of reachability, classification and layout passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolveTotal, err = meter.Int64Counter(
			"recipegraph_resolve_total",
			metric.WithDescription("Crafting-tree resolutions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a snapshot build.
func recordBuildMetrics(ctx context.Context, duration time.Duration, itemCount, recipeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		itemsIndexed.Record(ctx, int64(itemCount))
		recipesIndexed.Record(ctx, int64(recipeCount))
	}
}

// recordAnalysisMetrics records the duration of a named analysis pass.
func recordAnalysisMetrics(ctx context.Context, analysis string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	analysisLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("analysis", analysis)),
	)
}

// recordResolve counts one top-level resolution.
func recordResolve(outcome string, policy Policy) {
	if err := initMetrics(); err != nil {
		return
	}
	resolveTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("policy", policy.String()),
		),
	)
}

// startBuildSpan creates a span for a snapshot build.
func startBuildSpan(ctx context.Context, recipeCount, itemCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "BuildSnapshot",
		trace.WithAttributes(
			attribute.Int("recipegraph.input_recipes", recipeCount),
			attribute.Int("recipegraph.input_items", itemCount),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, itemCount, usable, skipped int) {
	span.SetAttributes(
		attribute.Int("recipegraph.item_count", itemCount),
		attribute.Int("recipegraph.usable_recipes", usable),
		attribute.Int("recipegraph.skipped_recipes", skipped),
	)
}

// startAnalysisSpan creates a span for an analysis pass.
func startAnalysisSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Graph."+name,
		trace.WithAttributes(attribute.String("recipegraph.analysis", name)),
	)
}
