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
	"time"
)

// Counts are whole-graph totals.
type Counts struct {
	TotalRecipes     int `json:"total_recipes"`
	TotalItems       int `json:"total_items"`
	BaseItems        int `json:"base_items"`
	ReachableItems   int `json:"reachable_items"`
	UnreachableItems int `json:"unreachable_items"`
	ValidRecipes     int `json:"valid_recipes"`
	InvalidRecipes   int `json:"invalid_recipes"`
	CircularRecipes  int `json:"circular_recipes"`
	CircularItems    int `json:"circular_items"`
	SkippedRecipes   int `json:"skipped_recipes"`
}

// CountGraph computes whole-graph totals. A recipe is valid when both of
// its inputs are reachable; every other record, skipped ones included, is
// invalid. Circular recipes produce one of their own inputs.
func CountGraph(s *Snapshot, r *Reachability) Counts {
	c := Counts{
		TotalRecipes:     s.NumRecipes(),
		TotalItems:       s.NumItems(),
		BaseItems:        int(s.base.GetCardinality()),
		ReachableItems:   r.Count(),
		UnreachableItems: int(r.unreachable.GetCardinality()),
		ValidRecipes:     r.ValidRecipes(),
		SkippedRecipes:   len(s.skipped),
	}
	c.InvalidRecipes = c.TotalRecipes - c.ValidRecipes

	circular := make(map[ItemID]struct{})
	for i, rec := range s.recipes {
		if s.usable[i] && rec.IsSelfLoop() {
			c.CircularRecipes++
			circular[s.ends[i].out] = struct{}{}
		}
	}
	c.CircularItems = len(circular)
	return c
}

// ValidGraphStats aggregates PathStats over every resolvable reachable item.
type ValidGraphStats struct {
	Items      int     `json:"items"`
	MaxDepth   int     `json:"max_depth"`
	AvgDepth   float64 `json:"avg_depth"`
	MaxWidth   int     `json:"max_width"`
	AvgWidth   float64 `json:"avg_width"`
	MaxBreadth int     `json:"max_breadth"`
	AvgBreadth float64 `json:"avg_breadth"`
}

// SystemStats summarizes the reachable and unreachable halves of the graph.
type SystemStats struct {
	TotalValidItems       int             `json:"total_valid_items"`
	TotalUnreachableItems int             `json:"total_unreachable_items"`
	UnreachableGraphCount int             `json:"unreachable_graph_count"`
	GraphTypes            map[string]int  `json:"graph_types"`
	ValidGraphStats       ValidGraphStats `json:"valid_graph_stats"`
}

// ComputeSystemStats resolves every reachable item with res and aggregates
// the results together with the unreachable components.
//
// Outputs:
//
//	SystemStats - Items that resolve to nil (possible under first_match)
//	are excluded from ValidGraphStats.
//	error - Resolver errors, which are always invariant violations.
func ComputeSystemStats(ctx context.Context, r *Reachability, graphs []UnreachableGraph, res *Resolver, calc *StatsCalculator) (SystemStats, error) {
	_, span := startAnalysisSpan(ctx, "SystemStats")
	defer span.End()
	start := time.Now()

	st := SystemStats{
		TotalValidItems:       r.Count(),
		TotalUnreachableItems: int(r.unreachable.GetCardinality()),
		UnreachableGraphCount: len(graphs),
		GraphTypes: map[string]int{
			GraphIsolated.String(): 0,
			GraphLinear.String():   0,
			GraphCircular.String(): 0,
			GraphBoundary.String(): 0,
		},
	}
	for _, g := range graphs {
		st.GraphTypes[g.Type.String()]++
	}

	var sumDepth, sumWidth, sumBreadth int
	v := &st.ValidGraphStats
	for _, id := range r.Order() {
		tree, err := res.ResolveID(id)
		if err != nil {
			return SystemStats{}, err
		}
		if tree == nil {
			continue
		}
		ps := calc.PathStats(tree)
		v.Items++
		sumDepth += ps.Depth
		sumWidth += ps.Width
		sumBreadth += ps.Breadth
		v.MaxDepth = max(v.MaxDepth, ps.Depth)
		v.MaxWidth = max(v.MaxWidth, ps.Width)
		v.MaxBreadth = max(v.MaxBreadth, ps.Breadth)
	}
	if v.Items > 0 {
		n := float64(v.Items)
		v.AvgDepth = float64(sumDepth) / n
		v.AvgWidth = float64(sumWidth) / n
		v.AvgBreadth = float64(sumBreadth) / n
	}

	recordAnalysisMetrics(ctx, "system_stats", time.Since(start))
	return st, nil
}
