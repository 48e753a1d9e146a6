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

import "sync"

// subtreeAgg holds position-independent aggregates of one subtree.
type subtreeAgg struct {
	height       int
	width        int
	total        int
	breadthBelow int
	materials    map[ItemID]int
}

// StatsCalculator computes PathStats bottom-up over resolved trees.
//
// Aggregates are memoized per node, so shared subtrees are summed once even
// though they are counted with multiplicity.
type StatsCalculator struct {
	snap *Snapshot

	mu  sync.Mutex
	agg map[*TreeNode]*subtreeAgg
}

// NewStatsCalculator creates a calculator for trees resolved from s.
func NewStatsCalculator(s *Snapshot) *StatsCalculator {
	return &StatsCalculator{snap: s, agg: make(map[*TreeNode]*subtreeAgg)}
}

// PathStats returns the statistics of the tree rooted at root. A nil root
// yields the zero value.
func (c *StatsCalculator) PathStats(root *TreeNode) PathStats {
	if root == nil {
		return PathStats{Materials: map[string]int{}}
	}

	c.mu.Lock()
	a := c.aggregate(root)
	c.mu.Unlock()

	breadth := a.breadthBelow
	if root.Kind == NodeLeaf {
		breadth += c.snap.breadthWeight(root.ID)
	}

	materials := make(map[string]int, len(a.materials))
	for id, n := range a.materials {
		materials[c.snap.Name(id)] = n
	}
	return PathStats{
		Depth:          a.height,
		Width:          a.width,
		TotalMaterials: a.total,
		Breadth:        breadth,
		Materials:      materials,
	}
}

// aggregate must be called with c.mu held.
func (c *StatsCalculator) aggregate(n *TreeNode) *subtreeAgg {
	if a, ok := c.agg[n]; ok {
		return a
	}

	var a *subtreeAgg
	if n.Kind == NodeLeaf {
		a = &subtreeAgg{total: 1, materials: map[ItemID]int{n.ID: 1}}
	} else {
		l, r := c.aggregate(n.Left), c.aggregate(n.Right)
		a = &subtreeAgg{
			height: 1 + max(l.height, r.height),
			width:  1 + l.width + r.width,
			total:  l.total + r.total,
			breadthBelow: c.snap.breadthWeight(n.Left.ID) + l.breadthBelow +
				c.snap.breadthWeight(n.Right.ID) + r.breadthBelow,
			materials: make(map[ItemID]int, len(l.materials)+len(r.materials)),
		}
		for id, k := range l.materials {
			a.materials[id] += k
		}
		for id, k := range r.materials {
			a.materials[id] += k
		}
	}
	c.agg[n] = a
	return a
}

// Shape returns depth, width, breadth and total materials of the tree
// without building the materials histogram.
func (c *StatsCalculator) Shape(root *TreeNode) (depth, width, breadth, total int) {
	c.mu.Lock()
	a := c.aggregate(root)
	c.mu.Unlock()

	breadth = a.breadthBelow
	if root.Kind == NodeLeaf {
		breadth += c.snap.breadthWeight(root.ID)
	}
	return a.height, a.width, breadth, a.total
}
