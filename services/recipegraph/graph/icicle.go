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
	"runtime"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultIcicleShardSize is the number of roots converted per task.
	DefaultIcicleShardSize = 1000

	// DefaultIcicleWorkers bounds the conversion pool.
	DefaultIcicleWorkers = 4
)

// IcicleStats is the PathStats subset shown in the layout.
type IcicleStats struct {
	Depth   int `json:"depth"`
	Width   int `json:"width"`
	Breadth int `json:"breadth"`
}

// IcicleNode is one rectangle of the icicle layout. Value is the subtree's
// base material count, so a parent equals the sum of its children.
type IcicleNode struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Glyph    string        `json:"glyph,omitempty"`
	IsBase   bool          `json:"is_base"`
	Value    int           `json:"value"`
	Recipe   *Recipe       `json:"recipe,omitempty"`
	Stats    *IcicleStats  `json:"stats,omitempty"`
	Children []*IcicleNode `json:"children,omitempty"`
}

// IcicleChart is the layout output. TotalElements and MaxDepth cover every
// root, including those cut by the limit.
type IcicleChart struct {
	Nodes         []*IcicleNode `json:"nodes"`
	TotalElements int           `json:"totalElements"`
	MaxDepth      int           `json:"maxDepth"`
}

// IcicleOptions configures BuildIcicle. Zero values select defaults;
// Limit <= 0 means no limit.
type IcicleOptions struct {
	Limit      int
	ShardSize  int
	MaxWorkers int
}

// BuildIcicle converts resolved trees into a sorted icicle layout.
//
// Description:
//
//	Roots are converted in shards on a bounded worker pool, then sorted by
//	depth asc, width asc, breadth desc, name asc. The limit truncates the
//	sorted roots. Children at every level use the same order.
//
// Inputs:
//
//	roots - Resolved trees; nil entries are ignored.
//	calc - Stats calculator for the snapshot the trees came from.
//
// Outputs:
//
//	error - ctx.Err() when cancelled between shards.
func BuildIcicle(ctx context.Context, roots []*TreeNode, calc *StatsCalculator, opts IcicleOptions) (*IcicleChart, error) {
	ctx, span := startAnalysisSpan(ctx, "BuildIcicle")
	defer span.End()
	start := time.Now()

	if opts.ShardSize <= 0 {
		opts.ShardSize = DefaultIcicleShardSize
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = min(DefaultIcicleWorkers, runtime.NumCPU())
	}

	trees := make([]*TreeNode, 0, len(roots))
	for _, t := range roots {
		if t != nil {
			trees = append(trees, t)
		}
	}

	nodes := make([]*IcicleNode, len(trees))
	p := pool.New().WithMaxGoroutines(opts.MaxWorkers).WithContext(ctx)
	for lo := 0; lo < len(trees); lo += opts.ShardSize {
		hi := min(lo+opts.ShardSize, len(trees))
		p.Go(func(ctx context.Context) error {
			for i := lo; i < hi; i++ {
				if (i-lo)%64 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				nodes[i] = toIcicle(trees[i], trees[i].Name, calc)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	SortIcicleNodes(nodes)

	chart := &IcicleChart{TotalElements: len(nodes), Nodes: nodes}
	for _, n := range nodes {
		chart.MaxDepth = max(chart.MaxDepth, n.Stats.Depth)
	}
	if opts.Limit > 0 && len(nodes) > opts.Limit {
		chart.Nodes = nodes[:opts.Limit]
	}

	span.SetAttributes(
		attribute.Int("recipegraph.icicle_roots", chart.TotalElements),
		attribute.Int("recipegraph.icicle_limit", opts.Limit),
	)
	recordAnalysisMetrics(ctx, "icicle", time.Since(start))
	return chart, nil
}

// toIcicle expands t into a fresh IcicleNode tree. Shared subtrees are
// copied so every rectangle has its own id.
func toIcicle(t *TreeNode, id string, calc *StatsCalculator) *IcicleNode {
	depth, width, breadth, total := calc.Shape(t)
	n := &IcicleNode{
		ID:     id,
		Name:   t.Name,
		Glyph:  t.Glyph,
		IsBase: t.Kind == NodeLeaf,
		Value:  total,
		Recipe: t.Recipe,
		Stats:  &IcicleStats{Depth: depth, Width: width, Breadth: breadth},
	}
	if t.Kind == NodeInternal {
		n.Children = []*IcicleNode{
			toIcicle(t.Left, id+"/0", calc),
			toIcicle(t.Right, id+"/1", calc),
		}
		SortIcicleNodes(n.Children)
	}
	return n
}

// SortIcicleNodes orders nodes by depth asc, width asc, breadth desc, then
// name asc. Nodes without stats sort as all-zero.
func SortIcicleNodes(nodes []*IcicleNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := statsOf(nodes[i]), statsOf(nodes[j])
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Width != b.Width {
			return a.Width < b.Width
		}
		if a.Breadth != b.Breadth {
			return a.Breadth > b.Breadth
		}
		return nodes[i].Name < nodes[j].Name
	})
}

func statsOf(n *IcicleNode) IcicleStats {
	if n.Stats == nil {
		return IcicleStats{}
	}
	return *n.Stats
}
