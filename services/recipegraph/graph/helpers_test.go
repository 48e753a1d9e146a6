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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// Helper: the five base elements.
func baseItems() []Item {
	return []Item{
		{Name: "水", IsBase: true, Glyph: "💧"},
		{Name: "火", IsBase: true, Glyph: "🔥"},
		{Name: "土", IsBase: true, Glyph: "🌍"},
		{Name: "金", IsBase: true, Glyph: "⚡"},
		{Name: "木", IsBase: true, Glyph: "🌳"},
	}
}

// Helper: recipe shorthand.
func rec(id int64, a, b, out string) Recipe {
	return Recipe{ID: id, InputA: a, InputB: b, Output: out}
}

// Helper: logger that drops everything.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper: build a snapshot over the base elements.
func mustSnapshot(t *testing.T, recipes []Recipe, items ...Item) *Snapshot {
	t.Helper()
	s, err := BuildSnapshot(context.Background(), recipes, items, baseItems(), WithLogger(quietLogger()))
	require.NoError(t, err)
	return s
}

// Helper: snapshot plus reachability.
func mustAnalyze(t *testing.T, recipes []Recipe, items ...Item) (*Snapshot, *Reachability) {
	t.Helper()
	s := mustSnapshot(t, recipes, items...)
	return s, Analyze(context.Background(), s)
}

// Helper: id lookup that fails the test on unknown names.
func mustID(t *testing.T, s *Snapshot, name string) ItemID {
	t.Helper()
	id, ok := s.Lookup(name)
	require.True(t, ok, "item %q not indexed", name)
	return id
}

// steamBoat is the canonical small fixture: 水+火=蒸汽, 木+蒸汽=船.
func steamBoat() []Recipe {
	return []Recipe{
		rec(1, "水", "火", "蒸汽"),
		rec(2, "木", "蒸汽", "船"),
	}
}
