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
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
)

// SkippedRecipe is a recipe record excluded from the indices.
type SkippedRecipe struct {
	Index  int    `json:"index"`
	Recipe Recipe `json:"recipe"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// BuildStats describes one snapshot build.
type BuildStats struct {
	Recipes          int           `json:"recipes"`
	UsableRecipes    int           `json:"usable_recipes"`
	SkippedRecipes   int           `json:"skipped_recipes"`
	SkippedItems     int           `json:"skipped_items"`
	SynthesizedItems int           `json:"synthesized_items"`
	Unnormalized     int           `json:"unnormalized_recipes"`
	SelfLoops        int           `json:"self_loop_recipes"`
	Duration         time.Duration `json:"duration"`
}

// recipeEnds holds the resolved item ids of a usable recipe.
type recipeEnds struct {
	a, b, out ItemID
}

// Snapshot is the immutable index over one generation of recipe data.
//
// Every name referenced by a usable recipe has an ItemID even when no Item
// record exists for it; such items are synthesized as non-base with no
// glyph.
type Snapshot struct {
	items   []Item
	index   map[string]ItemID
	recipes []Recipe
	usable  []bool
	ends    []recipeEnds

	producers [][]int
	consumers [][]int
	deps      [][]ItemID

	base    *roaring.Bitmap
	skipped []SkippedRecipe
	stats   BuildStats

	fingerprint uint64
}

// buildOptions configures BuildSnapshot.
type buildOptions struct {
	logger     *slog.Logger
	maxRecipes int
}

// BuildOption configures BuildSnapshot.
type BuildOption func(*buildOptions)

// WithLogger sets the logger used for skipped-record warnings.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithMaxRecipes caps the number of recipe records. Zero means unlimited.
func WithMaxRecipes(n int) BuildOption {
	return func(o *buildOptions) {
		o.maxRecipes = n
	}
}

// BuildSnapshot indexes recipes, items and base items.
//
// Description:
//
//	Validates each record, assigns ItemIDs in sorted-name order and builds
//	the producer, consumer and dependency indices. Producer and consumer
//	lists keep the input recipe order, which is the tie-break order for
//	path policies.
//
// Inputs:
//
//	ctx - Used for tracing only; the build is not cancellable.
//	recipes - All recipe records.
//	items - All item records. Duplicates are merged.
//	base - Base items. Their names are base even if items disagrees.
//
// Outputs:
//
//	*Snapshot - The immutable index.
//	error - ErrMaxRecipesExceeded or ErrTooManyItems. Malformed records
//	are not errors; they are listed in Skipped.
//
// Thread Safety:
//
//	Safe for concurrent use; inputs are not retained.
func BuildSnapshot(ctx context.Context, recipes []Recipe, items []Item, base []Item, opts ...BuildOption) (*Snapshot, error) {
	o := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ctx, span := startBuildSpan(ctx, len(recipes), len(items))
	defer span.End()
	start := time.Now()

	if o.maxRecipes > 0 && len(recipes) > o.maxRecipes {
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxRecipesExceeded, len(recipes), o.maxRecipes)
	}

	s := &Snapshot{
		recipes: append([]Recipe(nil), recipes...),
		usable:  make([]bool, len(recipes)),
		ends:    make([]recipeEnds, len(recipes)),
		base:    roaring.New(),
	}
	s.stats.Recipes = len(recipes)

	// Collect every known name.
	type itemInfo struct {
		glyph  string
		isBase bool
		record bool
	}
	known := make(map[string]*itemInfo, len(items)+len(base))
	note := func(name string) *itemInfo {
		info, ok := known[name]
		if !ok {
			info = &itemInfo{}
			known[name] = info
		}
		return info
	}

	for _, it := range items {
		if err := recipeValidate.Struct(it); err != nil {
			s.stats.SkippedItems++
			o.logger.Warn("skipping malformed item",
				slog.String("item", it.Name),
				slog.String("error", err.Error()))
			continue
		}
		info := note(it.Name)
		info.record = true
		info.isBase = info.isBase || it.IsBase
		if info.glyph == "" {
			info.glyph = it.Glyph
		}
	}
	for _, it := range base {
		if !isValidItemName(it.Name) {
			s.stats.SkippedItems++
			o.logger.Warn("skipping malformed base item", slog.String("item", it.Name))
			continue
		}
		info := note(it.Name)
		info.isBase = true
		if info.glyph == "" {
			info.glyph = it.Glyph
		}
	}

	for i, r := range recipes {
		if err := recipeValidate.Struct(r); err != nil {
			s.skipped = append(s.skipped, SkippedRecipe{
				Index:  i,
				Recipe: r,
				Reason: err.Error(),
				Err:    fmt.Errorf("%w: recipe %d: %v", ErrMalformedRecipe, r.ID, err),
			})
			o.logger.Warn("skipping malformed recipe",
				slog.Int64("recipe_id", r.ID),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			// Well-formed names on an unusable recipe are still items.
			for _, name := range [...]string{r.InputA, r.InputB, r.Output} {
				if _, ok := known[name]; !ok && isValidItemName(name) {
					note(name)
				}
			}
			continue
		}
		s.usable[i] = true
		for _, name := range [...]string{r.InputA, r.InputB, r.Output} {
			if _, ok := known[name]; !ok {
				note(name)
			}
		}
	}
	s.stats.SkippedRecipes = len(s.skipped)

	if uint64(len(known)) > math.MaxUint32 {
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("%w: %d", ErrTooManyItems, len(known))
	}

	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)

	s.items = make([]Item, len(names))
	s.index = make(map[string]ItemID, len(names))
	for i, name := range names {
		info := known[name]
		s.items[i] = Item{Name: name, IsBase: info.isBase, Glyph: info.glyph}
		s.index[name] = ItemID(i)
		if info.isBase {
			s.base.Add(uint32(i))
		}
		if !info.record && !info.isBase {
			s.stats.SynthesizedItems++
		}
	}

	s.producers = make([][]int, len(names))
	s.consumers = make([][]int, len(names))
	s.deps = make([][]ItemID, len(names))
	seenDep := make(map[uint64]struct{})

	for i, r := range recipes {
		if !s.usable[i] {
			continue
		}
		e := recipeEnds{a: s.index[r.InputA], b: s.index[r.InputB], out: s.index[r.Output]}
		s.ends[i] = e
		s.stats.UsableRecipes++

		s.producers[e.out] = append(s.producers[e.out], i)
		s.consumers[e.a] = append(s.consumers[e.a], i)
		if e.b != e.a {
			s.consumers[e.b] = append(s.consumers[e.b], i)
		}
		for _, in := range [...]ItemID{e.a, e.b} {
			key := uint64(e.out)<<32 | uint64(in)
			if _, dup := seenDep[key]; dup {
				continue
			}
			seenDep[key] = struct{}{}
			s.deps[e.out] = append(s.deps[e.out], in)
		}

		if r.IsSelfLoop() {
			s.stats.SelfLoops++
		}
		if r.InputA > r.InputB {
			s.stats.Unnormalized++
			o.logger.Debug("recipe inputs not normalized",
				slog.Int64("recipe_id", r.ID),
				slog.String("recipe", r.String()))
		}
	}

	s.fingerprint = s.computeFingerprint()
	s.stats.Duration = time.Since(start)

	setBuildSpanResult(span, len(s.items), s.stats.UsableRecipes, s.stats.SkippedRecipes)
	recordBuildMetrics(ctx, s.stats.Duration, len(s.items), s.stats.UsableRecipes, true)
	return s, nil
}

// computeFingerprint hashes items (with base flag and glyph) and usable
// recipes in order. Equal inputs give equal fingerprints.
func (s *Snapshot) computeFingerprint() uint64 {
	h := xxhash.New()
	for _, it := range s.items {
		_, _ = h.WriteString(it.Name)
		if it.IsBase {
			_, _ = h.WriteString("\x01")
		} else {
			_, _ = h.WriteString("\x00")
		}
		_, _ = h.WriteString(it.Glyph)
		_, _ = h.WriteString("\n")
	}
	for i, r := range s.recipes {
		if !s.usable[i] {
			continue
		}
		_, _ = h.WriteString(strconv.FormatInt(r.ID, 10))
		_, _ = h.WriteString("\x00" + r.InputA + "\x00" + r.InputB + "\x00" + r.Output + "\n")
	}
	return h.Sum64()
}

// =============================================================================
// Accessors
// =============================================================================

// NumItems returns the number of indexed items.
func (s *Snapshot) NumItems() int { return len(s.items) }

// NumRecipes returns the number of recipe records, usable or not.
func (s *Snapshot) NumRecipes() int { return len(s.recipes) }

// Lookup returns the ItemID for name.
func (s *Snapshot) Lookup(name string) (ItemID, bool) {
	id, ok := s.index[name]
	return id, ok
}

// Item returns the item record for id.
func (s *Snapshot) Item(id ItemID) Item { return s.items[id] }

// Name returns the name of id.
func (s *Snapshot) Name(id ItemID) string { return s.items[id].Name }

// Items returns all items in ItemID order. The slice must not be modified.
func (s *Snapshot) Items() []Item { return s.items }

// IsBase reports whether id is a base item.
func (s *Snapshot) IsBase(id ItemID) bool { return s.items[id].IsBase }

// Base returns the base item set. The bitmap must not be modified.
func (s *Snapshot) Base() *roaring.Bitmap { return s.base }

// Recipe returns recipe record i.
func (s *Snapshot) Recipe(i int) Recipe { return s.recipes[i] }

// Recipes returns every recipe record, including skipped ones.
func (s *Snapshot) Recipes() []Recipe { return s.recipes }

// IsUsable reports whether recipe i passed validation.
func (s *Snapshot) IsUsable(i int) bool { return s.usable[i] }

// Producers returns the indices of usable recipes whose output is id, in
// input order.
func (s *Snapshot) Producers(id ItemID) []int { return s.producers[id] }

// Consumers returns the indices of usable recipes that take id as an
// input. A recipe using id twice appears once.
func (s *Snapshot) Consumers(id ItemID) []int { return s.consumers[id] }

// Dependencies returns the distinct inputs of all recipes producing id.
func (s *Snapshot) Dependencies(id ItemID) []ItemID { return s.deps[id] }

// Ends returns the item ids of usable recipe i.
func (s *Snapshot) Ends(i int) (a, b, out ItemID) {
	e := s.ends[i]
	return e.a, e.b, e.out
}

// Skipped returns the recipes excluded by validation.
func (s *Snapshot) Skipped() []SkippedRecipe { return s.skipped }

// BuildStats returns counters collected during the build.
func (s *Snapshot) BuildStats() BuildStats { return s.stats }

// Fingerprint identifies the indexed content.
func (s *Snapshot) Fingerprint() uint64 { return s.fingerprint }
