// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recipegraph is the recipe graph engine facade.
//
// Engine ties a repository to the analysis cache and answers the queries
// served to callers: per-item reachability, crafting paths, graph totals,
// icicle layouts and unreachable-graph reports. Every query runs against
// one cache entry, so the parts of a single answer are always consistent.
//
// Not-found is reported through a found flag, never an error. Errors are
// reserved for build failures (cache.ErrBuildFailed) and internal
// invariant breaks (graph.ErrInvariantViolation).
package recipegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/craftgraph/services/recipegraph/cache"
	"github.com/AleutianAI/craftgraph/services/recipegraph/config"
	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
	"github.com/AleutianAI/craftgraph/services/recipegraph/repository"
)

// Engine answers recipe graph queries.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	repo   repository.Repository
	cfg    config.Config
	policy graph.Policy
	logger *slog.Logger

	cache   *cache.GraphCache
	icicles *cache.LRU[icicleKey, *graph.IcicleChart]

	// rebuilds paces watcher-driven refreshes.
	rebuilds *rate.Limiter
}

type icicleKey struct {
	version uint64
	item    string
	limit   int
	policy  graph.Policy
}

// NewEngine creates an engine over repo. A nil cfg selects
// config.DefaultConfig(); a nil logger selects slog.Default().
func NewEngine(repo repository.Repository, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("recipegraph: nil repository")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		repo:     repo,
		cfg:      *cfg,
		policy:   cfg.PolicyValue(),
		logger:   logger.With(slog.String("component", "recipe_engine")),
		icicles:  cache.NewLRU[icicleKey, *graph.IcicleChart](cfg.Cache.ResultEntries, cfg.Cache.ResultTTL),
		rebuilds: newRebuildLimiter(cfg.Cache.MinRebuildInterval),
	}
	e.cache = cache.NewGraphCache(e.buildSnapshot,
		cache.WithMaxAge(cfg.Cache.TTL),
		cache.WithVerifyInvariants(cfg.Cache.VerifyInvariants),
		cache.WithCacheLogger(logger),
	)
	return e, nil
}

// newRebuildLimiter allows one rebuild per interval. Zero means no limit.
func newRebuildLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Policy returns the default path policy.
func (e *Engine) Policy() graph.Policy { return e.policy }

// Cache returns the underlying cache.
func (e *Engine) Cache() *cache.GraphCache { return e.cache }

func (e *Engine) buildSnapshot(ctx context.Context) (*graph.Snapshot, error) {
	if r, ok := e.repo.(repository.Reloader); ok {
		if err := r.Reload(ctx); err != nil {
			return nil, fmt.Errorf("reloading repository: %w", err)
		}
	}
	ds, err := repository.Fetch(ctx, e.repo)
	if err != nil {
		return nil, fmt.Errorf("reading repository: %w", err)
	}
	return graph.BuildSnapshot(ctx, ds.Recipes, ds.Items, ds.BaseItems,
		graph.WithLogger(e.logger),
		graph.WithMaxRecipes(e.cfg.Repository.MaxRecipes),
	)
}

// ReachabilityStats describes one item's position in the graph.
type ReachabilityStats struct {
	Item      string `json:"item"`
	Glyph     string `json:"glyph,omitempty"`
	IsBase    bool   `json:"is_base"`
	Reachable bool   `json:"reachable"`

	// MinDepth is the fewest recipe levels needed to reach the item; -1
	// when unreachable.
	MinDepth int `json:"min_depth"`

	ProducingRecipes       int `json:"producing_recipes"`
	UsableProducingRecipes int `json:"usable_producing_recipes"`
	ConsumingRecipes       int `json:"consuming_recipes"`

	// Witness is the recipe that first made the item reachable.
	Witness *graph.Recipe `json:"witness,omitempty"`

	Version uint64 `json:"version"`
}

// ReachabilityStats reports reachability facts for item. found is false
// for names the graph has never seen.
func (e *Engine) ReachabilityStats(ctx context.Context, item string) (*ReachabilityStats, bool, error) {
	entry, err := e.cache.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	s, r := entry.Snapshot, entry.Reach

	id, ok := s.Lookup(item)
	if !ok {
		return nil, false, nil
	}

	it := s.Item(id)
	st := &ReachabilityStats{
		Item:             it.Name,
		Glyph:            it.Glyph,
		IsBase:           it.IsBase,
		Reachable:        r.IsReachable(id),
		MinDepth:         r.Level(id),
		ProducingRecipes: len(s.Producers(id)),
		ConsumingRecipes: len(s.Consumers(id)),
		Version:          entry.Version,
	}
	for _, ri := range s.Producers(id) {
		a, b, _ := s.Ends(ri)
		if r.IsReachable(a) && r.IsReachable(b) {
			st.UsableProducingRecipes++
		}
	}
	if w, ok := r.Witness(id); ok {
		rec := s.Recipe(w)
		st.Witness = &rec
	}
	return st, true, nil
}

// CraftingPath is a resolved crafting tree with its statistics.
type CraftingPath struct {
	Item    string          `json:"item"`
	Policy  graph.Policy    `json:"policy"`
	Tree    *graph.TreeNode `json:"tree"`
	Stats   graph.PathStats `json:"stats"`
	Version uint64          `json:"version"`
}

// CraftingPath resolves item with the default policy.
func (e *Engine) CraftingPath(ctx context.Context, item string) (*CraftingPath, bool, error) {
	return e.CraftingPathWith(ctx, item, e.policy)
}

// CraftingPathWith resolves item with policy. found is false when the item
// is unknown or has no resolvable path.
func (e *Engine) CraftingPathWith(ctx context.Context, item string, policy graph.Policy) (*CraftingPath, bool, error) {
	entry, err := e.cache.Get(ctx)
	if err != nil {
		return nil, false, err
	}

	tree, err := entry.Resolver(policy).Resolve(item)
	if err != nil {
		e.logger.Error("crafting path resolution failed",
			slog.String("item", item),
			slog.String("policy", policy.String()),
			slog.String("error", err.Error()),
		)
		return nil, false, err
	}
	if tree == nil {
		return nil, false, nil
	}

	return &CraftingPath{
		Item:    item,
		Policy:  policy,
		Tree:    tree,
		Stats:   entry.Stats.PathStats(tree),
		Version: entry.Version,
	}, true, nil
}

// GraphStats are whole-graph totals for the current entry.
type GraphStats struct {
	graph.Counts

	SynthesizedItems int       `json:"synthesized_items"`
	Unnormalized     int       `json:"unnormalized_recipes"`
	SelfLoops        int       `json:"self_loops"`
	Version          uint64    `json:"version"`
	BuildID          string    `json:"build_id"`
	BuiltAt          time.Time `json:"built_at"`
	Fingerprint      string    `json:"fingerprint"`
}

// GraphStats computes whole-graph totals.
func (e *Engine) GraphStats(ctx context.Context) (*GraphStats, error) {
	entry, err := e.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	bs := entry.Snapshot.BuildStats()
	return &GraphStats{
		Counts:           graph.CountGraph(entry.Snapshot, entry.Reach),
		SynthesizedItems: bs.SynthesizedItems,
		Unnormalized:     bs.Unnormalized,
		SelfLoops:        bs.SelfLoops,
		Version:          entry.Version,
		BuildID:          entry.BuildID,
		BuiltAt:          entry.CreatedAt,
		Fingerprint:      fmt.Sprintf("%016x", entry.Snapshot.Fingerprint()),
	}, nil
}

// IcicleChart lays out item's crafting tree, or every reachable item's
// tree when item is empty. limit <= 0 selects the configured default,
// which may itself be 0 (no limit). found is false when a named item has
// no resolvable path.
func (e *Engine) IcicleChart(ctx context.Context, item string, limit int) (*graph.IcicleChart, bool, error) {
	if limit <= 0 {
		limit = e.cfg.Icicle.DefaultLimit
	}

	entry, err := e.cache.Get(ctx)
	if err != nil {
		return nil, false, err
	}

	key := icicleKey{version: entry.Version, item: item, limit: limit, policy: e.policy}
	if !entry.Stale {
		if chart, ok := e.icicles.Get(key); ok {
			return chart, true, nil
		}
	}

	res := entry.Resolver(e.policy)
	var roots []*graph.TreeNode
	if item != "" {
		tree, err := res.Resolve(item)
		if err != nil {
			return nil, false, err
		}
		if tree == nil {
			return nil, false, nil
		}
		roots = []*graph.TreeNode{tree}
	} else {
		order := entry.Reach.Order()
		roots = make([]*graph.TreeNode, 0, len(order))
		for _, id := range order {
			tree, err := res.ResolveID(id)
			if err != nil {
				return nil, false, err
			}
			roots = append(roots, tree)
		}
	}

	chart, err := graph.BuildIcicle(ctx, roots, entry.Stats, graph.IcicleOptions{
		Limit:      limit,
		ShardSize:  e.cfg.Icicle.ShardSize,
		MaxWorkers: e.cfg.Icicle.MaxWorkers,
	})
	if err != nil {
		return nil, false, err
	}

	// Entries from older versions are never hit again and age out of the
	// LRU on their own.
	if !entry.Stale {
		e.icicles.Set(key, chart)
	}
	return chart, true, nil
}

// UnreachableReport is the unreachable-graph analysis.
type UnreachableReport struct {
	Graphs      []graph.UnreachableGraph `json:"graphs"`
	SystemStats graph.SystemStats        `json:"system_stats"`
	Version     uint64                   `json:"version"`
}

// AnalyzeUnreachableGraphs classifies the unreachable components and
// summarizes the reachable side.
func (e *Engine) AnalyzeUnreachableGraphs(ctx context.Context) (*UnreachableReport, error) {
	entry, err := e.cache.Get(ctx)
	if err != nil {
		return nil, err
	}

	graphs := entry.Unreachable(ctx)
	st, err := graph.ComputeSystemStats(ctx, entry.Reach, graphs, entry.Resolver(e.policy), entry.Stats)
	if err != nil {
		return nil, err
	}
	if graphs == nil {
		graphs = []graph.UnreachableGraph{}
	}
	return &UnreachableReport{Graphs: graphs, SystemStats: st, Version: entry.Version}, nil
}

// Invalidate drops the cached analysis. Call after recipe writes.
func (e *Engine) Invalidate(ctx context.Context, reason string) {
	e.cache.Invalidate(ctx, reason)
}

// InvalidateItems drops the cached analysis after writes touching items
// and returns the items whose results may change.
func (e *Engine) InvalidateItems(ctx context.Context, items ...string) []string {
	return e.cache.InvalidateItems(ctx, "api", items...)
}

// Refresh rebuilds the analysis now.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err := e.cache.Refresh(ctx)
	return err
}

// CacheStatus describes the cache.
func (e *Engine) CacheStatus() cache.Status {
	return e.cache.Status()
}

// Close releases the repository if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
