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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixedFixture() []Recipe {
	return []Recipe{
		rec(1, "水", "火", "蒸汽"),
		rec(2, "木", "蒸汽", "船"),
		rec(3, "水", "蒸汽", "蒸汽"),
		rec(4, "B", "B", "A"),
		rec(5, "A", "A", "B"),
		rec(6, "", "水", "坏"),
	}
}

// TestCountGraph checks whole-graph totals.
func TestCountGraph(t *testing.T) {
	s, r := mustAnalyze(t, mixedFixture())
	c := CountGraph(s, r)

	assert.Equal(t, 6, c.TotalRecipes)
	assert.Equal(t, 10, c.TotalItems, "坏 from the skipped recipe is still an item")
	assert.Equal(t, 5, c.BaseItems)
	assert.Equal(t, 7, c.ReachableItems)
	assert.Equal(t, 3, c.UnreachableItems)
	assert.Equal(t, 3, c.ValidRecipes)
	assert.Equal(t, 3, c.InvalidRecipes)
	assert.Equal(t, 1, c.CircularRecipes)
	assert.Equal(t, 1, c.CircularItems)
	assert.Equal(t, 1, c.SkippedRecipes)
}

// TestComputeSystemStats checks the combined reachable/unreachable view.
func TestComputeSystemStats(t *testing.T) {
	ctx := context.Background()
	s, r := mustAnalyze(t, mixedFixture())
	graphs := ClassifyUnreachable(ctx, s, r)

	st, err := ComputeSystemStats(ctx, r, graphs, NewResolver(s, r, PolicyFirstMatch), NewStatsCalculator(s))
	require.NoError(t, err)

	assert.Equal(t, 7, st.TotalValidItems)
	assert.Equal(t, 3, st.TotalUnreachableItems)
	assert.Equal(t, 2, st.UnreachableGraphCount)
	assert.Equal(t, 1, st.GraphTypes["circular"])
	assert.Equal(t, 1, st.GraphTypes["isolated"])
	assert.Equal(t, 0, st.GraphTypes["linear"])

	v := st.ValidGraphStats
	assert.Equal(t, 7, v.Items)
	assert.Equal(t, 2, v.MaxDepth)
	assert.Equal(t, 2, v.MaxWidth)
	assert.InDelta(t, 3.0/7.0, v.AvgDepth, 1e-9)
}
