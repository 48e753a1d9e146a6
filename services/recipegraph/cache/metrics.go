// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("craftgraph.cache")
	meter  = otel.Meter("craftgraph.cache")
)

var (
	lookupTotal       metric.Int64Counter
	rebuildLatency    metric.Float64Histogram
	invalidationTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lookupTotal, err = meter.Int64Counter(
			"recipegraph_cache_lookups_total",
			metric.WithDescription("Cache lookups by result (hit, miss, shared)"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rebuildLatency, err = meter.Float64Histogram(
			"recipegraph_cache_rebuild_duration_seconds",
			metric.WithDescription("Duration of cache rebuilds including analysis"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		invalidationTotal, err = meter.Int64Counter(
			"recipegraph_cache_invalidations_total",
			metric.WithDescription("Cache invalidations by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLookup(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordRebuild(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	rebuildLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", success)),
	)
}

func recordInvalidation(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	invalidationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// startRebuildSpan creates a span for a cache rebuild.
func startRebuildSpan(ctx context.Context, epoch uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "GraphCache.rebuild",
		trace.WithAttributes(attribute.Int64("recipegraph.cache_epoch", int64(epoch))),
	)
}
