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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildSnapshot_SynthesizesMissingItems checks that recipe endpoints
// without item records are indexed as non-base items.
func TestBuildSnapshot_SynthesizesMissingItems(t *testing.T) {
	s := mustSnapshot(t, steamBoat(), Item{Name: "船", Glyph: "⛵"})

	assert.Equal(t, 7, s.NumItems())
	steam := mustID(t, s, "蒸汽")
	assert.False(t, s.IsBase(steam))
	assert.Empty(t, s.Item(steam).Glyph)
	assert.Equal(t, "⛵", s.Item(mustID(t, s, "船")).Glyph)

	stats := s.BuildStats()
	assert.Equal(t, 1, stats.SynthesizedItems)
	assert.Equal(t, 2, stats.UsableRecipes)
	assert.Equal(t, 0, stats.SkippedRecipes)
	assert.Equal(t, uint64(5), s.Base().GetCardinality())
}

// TestBuildSnapshot_Indices checks producer, consumer and dependency lists.
func TestBuildSnapshot_Indices(t *testing.T) {
	recipes := []Recipe{
		rec(1, "水", "火", "蒸汽"),
		rec(2, "土", "水", "蒸汽"),
		rec(3, "水", "水", "湖"),
		rec(4, "水", "火", "蒸汽"),
	}
	s := mustSnapshot(t, recipes)

	steam := mustID(t, s, "蒸汽")
	water := mustID(t, s, "水")
	assert.Equal(t, []int{0, 1, 3}, s.Producers(steam))
	assert.Equal(t, []int{0, 1, 2, 3}, s.Consumers(water), "a recipe using an input twice is listed once")

	var deps []string
	for _, d := range s.Dependencies(steam) {
		deps = append(deps, s.Name(d))
	}
	assert.ElementsMatch(t, []string{"水", "火", "土"}, deps, "dependencies are deduplicated")
}

// TestBuildSnapshot_SkipsMalformedRecipes checks log-and-skip behaviour.
func TestBuildSnapshot_SkipsMalformedRecipes(t *testing.T) {
	recipes := []Recipe{
		rec(1, "水", "火", "蒸汽"),
		rec(2, "", "火", "灰"),
		rec(3, "水", "  ", "泥"),
		rec(4, "水", "火\x00", "坏"),
		rec(5, "水", strings.Repeat("x", MaxItemNameLength+1), "长"),
	}
	s := mustSnapshot(t, recipes)

	require.Len(t, s.Skipped(), 4)
	for _, sk := range s.Skipped() {
		assert.ErrorIs(t, sk.Err, ErrMalformedRecipe)
		assert.False(t, s.IsUsable(sk.Index))
	}
	assert.Equal(t, 5, s.NumRecipes(), "skipped records are kept")
	ash, ok := s.Lookup("灰")
	require.True(t, ok, "well-formed names on skipped recipes are still items")
	assert.Empty(t, s.Producers(ash), "skipped recipes are not indexed")
	for _, name := range []string{"泥", "坏", "长"} {
		_, ok := s.Lookup(name)
		assert.True(t, ok, name)
	}
	_, ok = s.Lookup("火\x00")
	assert.False(t, ok, "malformed names never become items")
}

// TestBuildSnapshot_DeterministicAcrossInputOrder checks that shuffled
// inputs produce the same ids and the same fingerprint when per-output
// recipe order is preserved.
func TestBuildSnapshot_DeterministicAcrossInputOrder(t *testing.T) {
	a := mustSnapshot(t, steamBoat(), Item{Name: "船"})
	b := mustSnapshot(t, steamBoat(), Item{Name: "船"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	reversed, err := BuildSnapshot(context.Background(), steamBoat(), nil,
		[]Item{{Name: "木", IsBase: true}, {Name: "金", IsBase: true}, {Name: "土", IsBase: true},
			{Name: "火", IsBase: true, Glyph: "🔥"}, {Name: "水", IsBase: true, Glyph: "💧"}},
		WithLogger(quietLogger()))
	require.NoError(t, err)
	for _, it := range a.Items() {
		id, ok := reversed.Lookup(it.Name)
		require.True(t, ok)
		assert.Equal(t, mustID(t, a, it.Name), id)
	}
}

// TestBuildSnapshot_Counters checks self-loop and normalization counters.
func TestBuildSnapshot_Counters(t *testing.T) {
	s := mustSnapshot(t, []Recipe{
		rec(1, "火", "水", "蒸汽"),
		rec(2, "水", "蒸汽", "蒸汽"),
	})
	assert.Equal(t, 1, s.BuildStats().Unnormalized)
	assert.Equal(t, 1, s.BuildStats().SelfLoops)
}

// TestBuildSnapshot_MaxRecipes checks the recipe cap.
func TestBuildSnapshot_MaxRecipes(t *testing.T) {
	_, err := BuildSnapshot(context.Background(), steamBoat(), nil, baseItems(), WithMaxRecipes(1))
	assert.ErrorIs(t, err, ErrMaxRecipesExceeded)
}

// TestBuildSnapshot_ItemRecordMarksBase checks that the is_base flag on an
// item record is honoured even when the base list omits it.
func TestBuildSnapshot_ItemRecordMarksBase(t *testing.T) {
	s := mustSnapshot(t, nil, Item{Name: "风", IsBase: true})
	assert.True(t, s.IsBase(mustID(t, s, "风")))
	assert.Equal(t, uint64(6), s.Base().GetCardinality())
}

func TestRecipe_Helpers(t *testing.T) {
	r := rec(1, "火", "水", "蒸汽")
	assert.Equal(t, "火 + 水 = 蒸汽", r.String())
	assert.Equal(t, "水", r.Normalized().InputA)
	assert.False(t, r.IsSelfLoop())
	assert.True(t, rec(2, "水", "泥", "泥").IsSelfLoop())
}
