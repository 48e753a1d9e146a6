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
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolver_SteamScenario checks the single-step tree for 蒸汽.
func TestResolver_SteamScenario(t *testing.T) {
	s, r := mustAnalyze(t, steamBoat()[:1])
	res := NewResolver(s, r, PolicyFirstMatch)

	tree, err := res.Resolve("蒸汽")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, NodeInternal, tree.Kind)
	assert.Equal(t, "水", tree.Left.Name)
	assert.Equal(t, "火", tree.Right.Name)
	assert.True(t, tree.Left.IsLeaf())
	assert.Equal(t, int64(1), tree.Recipe.ID)
}

// TestResolver_BaseAndUnknown checks the trivial outcomes.
func TestResolver_BaseAndUnknown(t *testing.T) {
	s, r := mustAnalyze(t, steamBoat())
	res := NewResolver(s, r, PolicyFirstMatch)

	leaf, err := res.Resolve("水")
	require.NoError(t, err)
	require.NotNil(t, leaf)
	assert.True(t, leaf.IsLeaf())
	assert.Nil(t, leaf.Children())
	assert.Equal(t, "💧", leaf.Glyph)

	missing, err := res.Resolve("不存在")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

// TestResolver_Deterministic checks that repeated and independent
// resolutions give structurally identical trees.
func TestResolver_Deterministic(t *testing.T) {
	recipes := append(steamBoat(), rec(3, "土", "水", "蒸汽"), rec(4, "船", "蒸汽", "舰队"))
	s, r := mustAnalyze(t, recipes)

	first, err := NewResolver(s, r, PolicyFirstMatch).Resolve("舰队")
	require.NoError(t, err)
	res := NewResolver(s, r, PolicyFirstMatch)
	again, err := res.Resolve("舰队")
	require.NoError(t, err)
	cached, err := res.Resolve("舰队")
	require.NoError(t, err)

	require.NotNil(t, first)
	assert.True(t, first.Equal(again))
	assert.Same(t, again, cached, "memoized tree is shared")
	assert.Equal(t, int64(1), first.Right.Recipe.ID, "first recipe in snapshot order wins")
}

// TestResolver_NullPropagationIsMemoized checks that an unresolvable
// dependency is attempted once and its nil result reused.
func TestResolver_NullPropagationIsMemoized(t *testing.T) {
	s, r := mustAnalyze(t, []Recipe{
		rec(1, "水", "Y", "X"),
		rec(2, "X", "火", "Z"),
	})
	attempts := map[string]int{}
	res := NewResolver(s, r, PolicyFirstMatch, WithExpandHook(func(item string) { attempts[item]++ }))

	x, err := res.Resolve("X")
	require.NoError(t, err)
	assert.Nil(t, x)

	x, err = res.Resolve("X")
	require.NoError(t, err)
	assert.Nil(t, x)

	z, err := res.Resolve("Z")
	require.NoError(t, err)
	assert.Nil(t, z)

	assert.Equal(t, 1, attempts["Y"])
	assert.Equal(t, 1, attempts["X"])
	assert.Equal(t, 1, attempts["Z"])
}

// cycleFixture: A's first recipe needs B and B's needs A, but A also has a
// direct recipe from base items.
func cycleFixture() []Recipe {
	return []Recipe{
		rec(1, "B", "水", "A"),
		rec(2, "A", "水", "B"),
		rec(3, "水", "火", "A"),
	}
}

// TestResolver_FirstMatchCycleIsNil checks the visited-set guard.
func TestResolver_FirstMatchCycleIsNil(t *testing.T) {
	s, r := mustAnalyze(t, cycleFixture())
	require.True(t, r.IsReachable(mustID(t, s, "A")))

	res := NewResolver(s, r, PolicyFirstMatch, WithResolverLogger(quietLogger()))
	a, err := res.Resolve("A")
	require.NoError(t, err)
	assert.Nil(t, a, "first_match follows the cycle and gives up")

	b, err := res.Resolve("B")
	require.NoError(t, err)
	assert.Nil(t, b)
}

// TestResolver_MinDepthAvoidsCycle checks that min_depth resolves every
// reachable item with depth equal to its level.
func TestResolver_MinDepthAvoidsCycle(t *testing.T) {
	s, r := mustAnalyze(t, cycleFixture())
	res := NewResolver(s, r, PolicyMinDepth)
	calc := NewStatsCalculator(s)

	for _, name := range []string{"A", "B"} {
		tree, err := res.Resolve(name)
		require.NoError(t, err)
		require.NotNil(t, tree, name)
		assert.Equal(t, r.Level(mustID(t, s, name)), calc.PathStats(tree).Depth)
	}
}

// TestResolver_MinDepthPrefersShallow checks policy choice among
// alternatives.
func TestResolver_MinDepthPrefersShallow(t *testing.T) {
	s, r := mustAnalyze(t, []Recipe{
		rec(1, "水", "火", "a"),
		rec(2, "a", "土", "goal"),
		rec(3, "木", "水", "goal"),
	})

	first, err := NewResolver(s, r, PolicyFirstMatch).Resolve("goal")
	require.NoError(t, err)
	shallow, err := NewResolver(s, r, PolicyMinDepth).Resolve("goal")
	require.NoError(t, err)

	assert.Equal(t, int64(2), first.Recipe.ID)
	assert.Equal(t, int64(3), shallow.Recipe.ID)
}

// TestResolver_MinBreadthPrefersRareInputs checks the breadth policy.
func TestResolver_MinBreadthPrefersRareInputs(t *testing.T) {
	s, r := mustAnalyze(t, []Recipe{
		rec(1, "水", "火", "goal"),
		rec(2, "土", "金", "goal"),
		rec(3, "水", "火", "蒸汽"),
		rec(4, "水", "木", "泥"),
		rec(5, "火", "木", "炭"),
	})

	tree, err := NewResolver(s, r, PolicyMinBreadth).Resolve("goal")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tree.Recipe.ID)
}

// TestResolver_StrictPolicyReportsInvariantViolation checks that a
// corrupted reachability result is surfaced as an error, not nil.
func TestResolver_StrictPolicyReportsInvariantViolation(t *testing.T) {
	s, r := mustAnalyze(t, steamBoat())
	r.level[mustID(t, s, "蒸汽")] = 0

	_, err := NewResolver(s, r, PolicyMinDepth).Resolve("蒸汽")
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

// TestResolver_ConcurrentSameItem checks memoize-and-share under
// concurrency.
func TestResolver_ConcurrentSameItem(t *testing.T) {
	s, r := mustAnalyze(t, chain(30))
	var mu sync.Mutex
	attempts := map[string]int{}
	res := NewResolver(s, r, PolicyFirstMatch, WithExpandHook(func(item string) {
		mu.Lock()
		attempts[item]++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	trees := make([]*TreeNode, 32)
	for i := range trees {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trees[i], _ = res.Resolve("c30")
		}(i)
	}
	wg.Wait()

	for _, tree := range trees {
		assert.Same(t, trees[0], tree)
	}
	for item, n := range attempts {
		assert.Equal(t, 1, n, item)
	}
	assert.Len(t, attempts, 30)
}

// TestTreeNode_MarshalJSON checks the nested JSON form.
func TestTreeNode_MarshalJSON(t *testing.T) {
	s, r := mustAnalyze(t, steamBoat()[:1])
	tree, err := NewResolver(s, r, PolicyFirstMatch).Resolve("蒸汽")
	require.NoError(t, err)

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "蒸汽", got["item"])
	assert.Equal(t, false, got["is_base"])
	children, ok := got["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 2)
	assert.Equal(t, "水", children[0].(map[string]any)["item"])
	assert.Equal(t, true, children[0].(map[string]any)["is_base"])
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
		err  bool
	}{
		{"", PolicyFirstMatch, false},
		{"first_match", PolicyFirstMatch, false},
		{"min-depth", PolicyMinDepth, false},
		{"MIN_BREADTH", PolicyMinBreadth, false},
		{"shortest", PolicyFirstMatch, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.String(), string(must(got.MarshalText())))
		})
	}
}

func must(b []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return b
}
