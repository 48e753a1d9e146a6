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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// BuildFunc loads the current recipe data and builds a snapshot.
type BuildFunc func(ctx context.Context) (*graph.Snapshot, error)

// Entry is one installed snapshot with everything derived from it.
//
// Entries are immutable once installed except for the lazily created
// resolvers and unreachable report, which are guarded internally. An
// Entry stays valid for callers holding it after the cache moves on.
type Entry struct {
	// Version increments on every installed build.
	Version uint64

	// BuildID uniquely identifies the build across restarts.
	BuildID string

	// CreatedAt is when the entry was installed.
	CreatedAt time.Time

	// Stale marks an entry that was overtaken by an invalidation and never
	// installed. Its Version repeats the last installed one, so results
	// derived from it must not be cached by version.
	Stale bool

	Snapshot *graph.Snapshot
	Reach    *graph.Reachability
	Stats    *graph.StatsCalculator

	logger *slog.Logger

	mu        sync.Mutex
	resolvers map[graph.Policy]*graph.Resolver

	unreachOnce sync.Once
	unreachable []graph.UnreachableGraph
}

func newEntry(version uint64, buildID string, createdAt time.Time, snap *graph.Snapshot, reach *graph.Reachability, logger *slog.Logger) *Entry {
	return &Entry{
		Version:   version,
		BuildID:   buildID,
		CreatedAt: createdAt,
		Snapshot:  snap,
		Reach:     reach,
		Stats:     graph.NewStatsCalculator(snap),
		logger:    logger,
		resolvers: make(map[graph.Policy]*graph.Resolver, 3),
	}
}

// Resolver returns the memoizing resolver for policy, creating it on first
// use. All callers share one resolver per policy per entry.
func (e *Entry) Resolver(policy graph.Policy) *graph.Resolver {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.resolvers[policy]; ok {
		return r
	}
	r := graph.NewResolver(e.Snapshot, e.Reach, policy, graph.WithResolverLogger(e.logger))
	e.resolvers[policy] = r
	return r
}

// Unreachable returns the classified unreachable components, computing
// them once.
func (e *Entry) Unreachable(ctx context.Context) []graph.UnreachableGraph {
	e.unreachOnce.Do(func() {
		e.unreachable = graph.ClassifyUnreachable(context.WithoutCancel(ctx), e.Snapshot, e.Reach)
	})
	return e.unreachable
}

// CacheOptions configures a GraphCache.
type CacheOptions struct {
	// MaxAge is the entry TTL. Zero means entries never expire.
	MaxAge time.Duration

	// VerifyInvariants runs graph.VerifyReachability after every build and
	// rejects builds that fail it.
	VerifyInvariants bool

	// Logger receives cache lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultCacheOptions returns sensible defaults.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxAge:           0,
		VerifyInvariants: true,
	}
}

// CacheOption is a functional option for configuring the cache.
type CacheOption func(*CacheOptions)

// WithMaxAge sets the entry TTL.
func WithMaxAge(d time.Duration) CacheOption {
	return func(o *CacheOptions) {
		o.MaxAge = d
	}
}

// WithVerifyInvariants toggles post-build invariant checks.
func WithVerifyInvariants(enabled bool) CacheOption {
	return func(o *CacheOptions) {
		o.VerifyInvariants = enabled
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(o *CacheOptions) {
		o.Logger = logger
	}
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	SharedWaits   int64 `json:"shared_waits"`
	Builds        int64 `json:"builds"`
	BuildFailures int64 `json:"build_failures"`
	Invalidations int64 `json:"invalidations"`
	InFlight      int64 `json:"in_flight"`
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Status describes the installed entry.
type Status struct {
	Present        bool          `json:"present"`
	Version        uint64        `json:"version"`
	BuildID        string        `json:"build_id,omitempty"`
	BuiltAt        time.Time     `json:"built_at,omitempty"`
	Age            time.Duration `json:"age"`
	TTL            time.Duration `json:"ttl"`
	Expired        bool          `json:"expired"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	Items          int           `json:"items"`
	Recipes        int           `json:"recipes"`
	PendingChanges int           `json:"pending_changes"`
	Stats          CacheStats    `json:"stats"`
}
