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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// GraphCache holds the current analysis entry and rebuilds it on demand.
//
// Description:
//
//	Get returns the installed entry while it is fresh. Otherwise one
//	caller runs the BuildFunc and every concurrent caller waits for that
//	same build; at most one build runs at a time. Invalidation bumps an
//	epoch. A build that finishes under an older epoch is not installed and
//	is followed by exactly one more build. If that one is overtaken too,
//	its result goes to the waiters marked Stale and the next Get starts
//	over. A failed build leaves the cache empty and is retried on the next
//	Get.
//
// Thread Safety:
//
//	GraphCache is safe for concurrent use. Uses an RWMutex for the entry
//	and singleflight to collapse concurrent rebuilds.
type GraphCache struct {
	build   BuildFunc
	options CacheOptions
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entry   *Entry
	epoch   uint64
	version uint64

	flight singleflight.Group
	dirty  *DirtyTracker

	hits          atomic.Int64
	misses        atomic.Int64
	sharedWaits   atomic.Int64
	builds        atomic.Int64
	failures      atomic.Int64
	invalidations atomic.Int64
	inFlight      atomic.Int64
}

const (
	// rebuildKey is the single singleflight key; builds never overlap.
	rebuildKey = "snapshot"

	// maxBuildsPerFlight bounds builds per flight when invalidations keep
	// arriving mid-build.
	maxBuildsPerFlight = 2
)

// NewGraphCache creates a cache around build.
func NewGraphCache(build BuildFunc, opts ...CacheOption) *GraphCache {
	options := DefaultCacheOptions()
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphCache{
		build:   build,
		options: options,
		logger:  logger.With(slog.String("component", "graph_cache")),
		now:     time.Now,
		dirty:   NewDirtyTracker(),
	}
}

// Get returns a fresh entry, building one if needed.
//
// Inputs:
//
//	ctx - Bounds how long this caller waits. Cancelling it does not abort a
//	      build other callers may be waiting on.
//
// Outputs:
//
//	*Entry - The entry. Never nil when error is nil.
//	error - A *BuildError (matching ErrBuildFailed) or ctx.Err().
func (c *GraphCache) Get(ctx context.Context) (*Entry, error) {
	c.mu.RLock()
	entry := c.entry
	fresh := entry != nil && !c.expiredLocked(entry)
	c.mu.RUnlock()

	if fresh {
		c.hits.Add(1)
		recordLookup(ctx, "hit")
		return entry, nil
	}
	c.misses.Add(1)
	recordLookup(ctx, "miss")

	ch := c.flight.DoChan(rebuildKey, func() (any, error) {
		return c.rebuild(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.sharedWaits.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the installed entry without building. Expired entries are
// still returned.
func (c *GraphCache) Peek() *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry
}

// rebuild runs inside the flight. It returns the installed entry if one
// became fresh meanwhile, otherwise builds until a result is installed or
// maxBuildsPerFlight is reached.
func (c *GraphCache) rebuild(ctx context.Context) (*Entry, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	for attempt := 1; ; attempt++ {
		c.mu.RLock()
		epoch := c.epoch
		if c.entry != nil && !c.expiredLocked(c.entry) {
			entry := c.entry
			c.mu.RUnlock()
			return entry, nil
		}
		c.mu.RUnlock()

		entry, installed, err := c.buildOnce(ctx, epoch)
		if err != nil || installed || attempt >= maxBuildsPerFlight {
			return entry, err
		}
		c.logger.Info("cache invalidated during build, rebuilding",
			slog.Uint64("build_epoch", epoch),
			slog.Int("attempt", attempt),
		)
	}
}

// buildOnce runs the BuildFunc and installs the result if epoch is still
// current. An uninstalled result is returned with Stale set.
func (c *GraphCache) buildOnce(ctx context.Context, epoch uint64) (*Entry, bool, error) {
	c.builds.Add(1)

	ctx, span := startRebuildSpan(ctx, epoch)
	defer span.End()
	start := c.now()

	snap, err := c.build(ctx)
	if err != nil {
		return nil, false, c.fail(ctx, span, start, "load", err)
	}

	reach := graph.Analyze(ctx, snap)
	if c.options.VerifyInvariants {
		if err := graph.VerifyReachability(snap, reach); err != nil {
			return nil, false, c.fail(ctx, span, start, "verify", err)
		}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		entry := newEntry(c.version, uuid.NewString(), c.now(), snap, reach, c.logger)
		entry.Stale = true
		c.mu.Unlock()
		c.logger.Info("discarding build started before invalidation",
			slog.Uint64("build_epoch", epoch),
			slog.Int("items", snap.NumItems()),
		)
		recordRebuild(ctx, c.now().Sub(start), true)
		return entry, false, nil
	}
	c.version++
	entry := newEntry(c.version, uuid.NewString(), c.now(), snap, reach, c.logger)
	c.entry = entry
	c.mu.Unlock()

	applied := c.dirty.Drain()
	duration := c.now().Sub(start)
	recordRebuild(ctx, duration, true)
	span.SetAttributes(
		attribute.Int64("recipegraph.cache_version", int64(entry.Version)),
		attribute.Int("recipegraph.reachable", reach.Count()),
	)
	c.logger.Info("snapshot installed",
		slog.Uint64("version", entry.Version),
		slog.String("build_id", entry.BuildID),
		slog.Int("items", snap.NumItems()),
		slog.Int("reachable", reach.Count()),
		slog.Int("skipped_recipes", len(snap.Skipped())),
		slog.Int("applied_changes", len(applied)),
		slog.Duration("duration", duration),
	)
	return entry, true, nil
}

func (c *GraphCache) fail(ctx context.Context, span trace.Span, start time.Time, stage string, err error) error {
	c.failures.Add(1)
	recordRebuild(ctx, c.now().Sub(start), false)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	c.logger.Error("snapshot build failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	return &BuildError{Err: err, Stage: stage, FailedAt: c.now()}
}

// Invalidate drops the installed entry. The next Get rebuilds; a build
// already running is not installed and its flight builds once more.
func (c *GraphCache) Invalidate(ctx context.Context, reason string) {
	c.mu.Lock()
	had := c.entry != nil
	c.entry = nil
	c.epoch++
	c.mu.Unlock()

	c.invalidations.Add(1)
	recordInvalidation(ctx, reason)
	c.logger.Info("cache invalidated",
		slog.String("reason", reason),
		slog.Bool("had_entry", had),
	)
}

// InvalidateItems records changes to the named items and drops the entry.
//
// Description:
//
//	Invalidation is whole-entry. The returned list is the set of items
//	whose results can differ after the rebuild, computed against the
//	entry being dropped. With no entry installed the changed names are
//	returned as given, deduplicated.
//
// Inputs:
//
//	source - Who reported the change, recorded with the pending entries.
//	items - Changed item names. Unknown names are allowed.
func (c *GraphCache) InvalidateItems(ctx context.Context, source string, items ...string) []string {
	c.dirty.MarkDirty(source, items...)

	c.mu.Lock()
	old := c.entry
	c.entry = nil
	c.epoch++
	c.mu.Unlock()

	c.invalidations.Add(1)
	recordInvalidation(ctx, "items")

	var affected []string
	if old != nil {
		affected = graph.AffectedItems(old.Snapshot, items, graph.DefaultImpactLimit)
	} else {
		seen := make(map[string]bool, len(items))
		for _, it := range items {
			if !seen[it] {
				seen[it] = true
				affected = append(affected, it)
			}
		}
	}

	c.logger.Info("cache invalidated for item changes",
		slog.String("source", source),
		slog.Int("changed", len(items)),
		slog.Int("affected", len(affected)),
	)
	return affected
}

// Refresh drops the entry and rebuilds immediately.
func (c *GraphCache) Refresh(ctx context.Context) (*Entry, error) {
	c.Invalidate(ctx, "refresh")
	return c.Get(ctx)
}

// Stats returns cache counters.
func (c *GraphCache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		SharedWaits:   c.sharedWaits.Load(),
		Builds:        c.builds.Load(),
		BuildFailures: c.failures.Load(),
		Invalidations: c.invalidations.Load(),
		InFlight:      c.inFlight.Load(),
	}
}

// Status describes the installed entry and cache counters.
func (c *GraphCache) Status() Status {
	c.mu.RLock()
	entry := c.entry
	expired := entry != nil && c.expiredLocked(entry)
	c.mu.RUnlock()

	st := Status{
		TTL:            c.options.MaxAge,
		PendingChanges: c.dirty.Pending(),
		Stats:          c.Stats(),
	}
	if entry == nil {
		return st
	}
	st.Present = true
	st.Version = entry.Version
	st.BuildID = entry.BuildID
	st.BuiltAt = entry.CreatedAt
	st.Age = c.now().Sub(entry.CreatedAt)
	st.Expired = expired
	st.Fingerprint = fmt.Sprintf("%016x", entry.Snapshot.Fingerprint())
	st.Items = entry.Snapshot.NumItems()
	st.Recipes = entry.Snapshot.NumRecipes()
	return st
}

// expiredLocked must be called with c.mu held.
func (c *GraphCache) expiredLocked(e *Entry) bool {
	return c.options.MaxAge > 0 && c.now().Sub(e.CreatedAt) > c.options.MaxAge
}
