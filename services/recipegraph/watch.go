// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recipegraph

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
	"github.com/AleutianAI/craftgraph/services/recipegraph/repository"
)

// WatchFile invalidates the engine whenever the data file at path
// changes, then rebuilds eagerly, at most once per
// Cache.MinRebuildInterval. The returned watcher is already started; the
// caller stops it.
func (e *Engine) WatchFile(ctx context.Context, path string, opts *repository.WatcherOptions) (*repository.Watcher, error) {
	if opts == nil {
		defaults := repository.DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.Logger == nil {
		opts.Logger = e.logger
	}

	w, err := repository.NewWatcher(path, e.handleFileChange, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

func (e *Engine) handleFileChange(ctx context.Context, change repository.FileChange) {
	logger := e.logger.With(slog.String("path", change.Path), slog.String("op", change.Op.String()))

	if change.Op == repository.ChangeRemove {
		logger.Warn("data file removed; keeping current analysis")
		return
	}

	ds, err := repository.ReadDataset(change.Path)
	if err != nil {
		logger.Warn("ignoring unreadable data file change", slog.String("error", err.Error()))
		return
	}

	prev := e.cache.Peek()
	switch next, err := e.snapshotOf(ctx, ds); {
	case prev == nil:
		e.cache.Invalidate(ctx, "file_change")
	case err != nil:
		logger.Warn("data file change does not build", slog.String("error", err.Error()))
		e.cache.Invalidate(ctx, "file_change")
	case next.Fingerprint() == prev.Snapshot.Fingerprint():
		logger.Debug("data file rewritten without changes")
		return
	default:
		changed := changedItems(prev.Snapshot, ds)
		if len(changed) == 0 {
			e.cache.Invalidate(ctx, "file_change")
			logger.Info("data file changed")
			break
		}
		affected := e.cache.InvalidateItems(ctx, "watcher", changed...)
		logger.Info("data file changed",
			slog.Int("changed_items", len(changed)),
			slog.Int("affected_items", len(affected)),
		)
	}

	if err := e.rebuilds.Wait(ctx); err != nil {
		logger.Debug("rebuild skipped", slog.String("error", err.Error()))
		return
	}
	if err := e.Refresh(ctx); err != nil {
		logger.Error("rebuild after data file change failed", slog.String("error", err.Error()))
	}
}

// snapshotOf builds ds with the engine's limits and no logging, for
// comparison against the installed snapshot.
func (e *Engine) snapshotOf(ctx context.Context, ds repository.Dataset) (*graph.Snapshot, error) {
	return graph.BuildSnapshot(ctx, ds.Recipes, ds.Items, ds.BaseItems,
		graph.WithLogger(slog.New(slog.DiscardHandler)),
		graph.WithMaxRecipes(e.cfg.Repository.MaxRecipes),
	)
}

// changedItems returns the item names whose results can differ between s
// and ds, sorted:
//
//   - items on recipes added or removed
//   - outputs whose producing recipes were reordered
//   - items whose base flag or glyph changed, or whose record was added
func changedItems(s *graph.Snapshot, ds repository.Dataset) []string {
	type key struct{ a, b, out string }

	before := make(map[key]bool, s.NumRecipes())
	beforeOrder := make(map[string][]key)
	for _, r := range s.Recipes() {
		n := r.Normalized()
		k := key{n.InputA, n.InputB, n.Output}
		before[k] = true
		beforeOrder[k.out] = append(beforeOrder[k.out], k)
	}
	after := make(map[key]bool, len(ds.Recipes))
	afterOrder := make(map[string][]key)
	for _, r := range ds.Recipes {
		n := r.Normalized()
		k := key{n.InputA, n.InputB, n.Output}
		after[k] = true
		afterOrder[k.out] = append(afterOrder[k.out], k)
	}

	touched := make(map[string]bool)
	for k := range after {
		if !before[k] {
			touched[k.a], touched[k.b], touched[k.out] = true, true, true
		}
	}
	for k := range before {
		if !after[k] {
			touched[k.a], touched[k.b], touched[k.out] = true, true, true
		}
	}
	for out, keys := range afterOrder {
		if !slices.Equal(keys, beforeOrder[out]) {
			touched[out] = true
		}
	}

	type record struct {
		isBase bool
		glyph  string
	}
	records := make(map[string]record, len(ds.Items)+len(ds.BaseItems))
	for _, it := range ds.Items {
		rec := records[it.Name]
		rec.isBase = rec.isBase || it.IsBase
		if rec.glyph == "" {
			rec.glyph = it.Glyph
		}
		records[it.Name] = rec
	}
	for _, it := range ds.BaseItems {
		rec := records[it.Name]
		rec.isBase = true
		if rec.glyph == "" {
			rec.glyph = it.Glyph
		}
		records[it.Name] = rec
	}
	for _, it := range s.Items() {
		rec := records[it.Name]
		if it.IsBase != rec.isBase || it.Glyph != rec.glyph {
			touched[it.Name] = true
		}
	}
	for name := range records {
		if _, ok := s.Lookup(name); !ok {
			touched[name] = true
		}
	}

	out := make([]string, 0, len(touched))
	for name := range touched {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
