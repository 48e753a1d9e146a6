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
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// GraphType classifies the shape of an unreachable component.
type GraphType uint8

const (
	// GraphIsolated is a single item.
	GraphIsolated GraphType = iota + 1

	// GraphLinear is a simple path.
	GraphLinear

	// GraphCircular contains a directed cycle, self-loops included.
	GraphCircular

	// GraphBoundary is anything else: trees, diamonds, fans.
	GraphBoundary
)

// String returns the lowercase type name.
func (t GraphType) String() string {
	switch t {
	case GraphIsolated:
		return "isolated"
	case GraphLinear:
		return "linear"
	case GraphCircular:
		return "circular"
	case GraphBoundary:
		return "boundary"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t GraphType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// DependencyEdge points from an output to one of its inputs.
type DependencyEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ComponentStats are directed-graph metrics of one component. Breadth sums,
// over members, how many distinct items in the whole graph depend on the
// member.
type ComponentStats struct {
	Size                  int     `json:"size"`
	EdgeCount             int     `json:"edge_count"`
	TotalInDegree         int     `json:"total_in_degree"`
	TotalOutDegree        int     `json:"total_out_degree"`
	AvgDegree             float64 `json:"avg_degree"`
	Density               float64 `json:"density"`
	ClusteringCoefficient float64 `json:"clustering_coefficient"`
	BoundaryNodes         int     `json:"boundary_nodes"`
	Depth                 int     `json:"depth"`
	Breadth               int     `json:"breadth"`
	HasSelfLoop           bool    `json:"has_self_loop"`
}

// UnreachableGraph is a weakly connected component of unreachable items.
type UnreachableGraph struct {
	ID    string           `json:"id"`
	Nodes []string         `json:"nodes"`
	Edges []DependencyEdge `json:"edges"`
	Type  GraphType        `json:"type"`
	Stats ComponentStats   `json:"stats"`
}

// ClassifyUnreachable groups the unreachable items into weakly connected
// components of the dependency graph and classifies each one.
//
// Description:
//
//	Dependency edges run output -> input and are deduplicated. Components
//	follow edges in both directions but only between unreachable items.
//	Classification order: single node is isolated; any directed cycle or
//	self-loop is circular; a simple path is linear; the rest is boundary.
//
// Outputs:
//
//	[]UnreachableGraph - Sorted by smallest member name. Members and
//	edges are sorted by name.
func ClassifyUnreachable(ctx context.Context, s *Snapshot, r *Reachability) []UnreachableGraph {
	_, span := startAnalysisSpan(ctx, "ClassifyUnreachable")
	defer span.End()
	start := time.Now()

	unreachable := r.Unreachable()
	if unreachable.IsEmpty() {
		return []UnreachableGraph{}
	}

	// gonum simple graphs reject self-loops; buildComponent sees them
	// through the dependency index instead.
	undirected := simple.NewUndirectedGraph()
	it := unreachable.Iterator()
	for it.HasNext() {
		undirected.AddNode(simple.Node(int64(it.Next())))
	}
	it = unreachable.Iterator()
	for it.HasNext() {
		x := ItemID(it.Next())
		for _, d := range s.deps[x] {
			if d == x || !unreachable.Contains(uint32(d)) {
				continue
			}
			if !undirected.HasEdgeBetween(int64(x), int64(d)) {
				undirected.SetEdge(simple.Edge{F: simple.Node(int64(x)), T: simple.Node(int64(d))})
			}
		}
	}

	components := topo.ConnectedComponents(undirected)
	graphs := make([]UnreachableGraph, 0, len(components))
	for _, comp := range components {
		members := make([]ItemID, len(comp))
		for i, n := range comp {
			members[i] = ItemID(n.ID())
		}
		// ItemIDs follow name order.
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		graphs = append(graphs, buildComponent(s, members))
	}
	sort.Slice(graphs, func(i, j int) bool { return graphs[i].Nodes[0] < graphs[j].Nodes[0] })

	span.SetAttributes(attribute.Int("recipegraph.unreachable_graphs", len(graphs)))
	recordAnalysisMetrics(ctx, "classify_unreachable", time.Since(start))
	return graphs
}

// buildComponent computes edges, metrics and the classification of one
// component. members must be sorted.
func buildComponent(s *Snapshot, members []ItemID) UnreachableGraph {
	n := len(members)
	inComp := make(map[ItemID]bool, n)
	for _, m := range members {
		inComp[m] = true
	}

	type edge struct{ from, to ItemID }
	var edges []edge
	inDeg := make(map[ItemID]int, n)
	neighbors := make(map[ItemID]map[ItemID]bool, n)
	boundary := 0
	hasSelfLoop := false

	for _, x := range members {
		leaves := false
		for _, d := range s.deps[x] {
			if !inComp[d] {
				leaves = true
				continue
			}
			edges = append(edges, edge{x, d})
			inDeg[d]++
			if d == x {
				hasSelfLoop = true
				continue
			}
			addNeighbor(neighbors, x, d)
			addNeighbor(neighbors, d, x)
		}
		if leaves {
			boundary++
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})

	g := UnreachableGraph{
		Nodes: make([]string, n),
		Edges: make([]DependencyEdge, len(edges)),
	}
	h := xxhash.New()
	for i, m := range members {
		g.Nodes[i] = s.Name(m)
		_, _ = h.WriteString(g.Nodes[i])
		_, _ = h.WriteString("\x00")
	}
	g.ID = fmt.Sprintf("graph_%016x", h.Sum64())
	for i, e := range edges {
		g.Edges[i] = DependencyEdge{From: s.Name(e.from), To: s.Name(e.to)}
	}

	st := ComponentStats{
		Size:           n,
		EdgeCount:      len(edges),
		TotalInDegree:  len(edges),
		TotalOutDegree: len(edges),
		BoundaryNodes:  boundary,
		HasSelfLoop:    hasSelfLoop,
	}
	st.AvgDegree = float64(st.TotalInDegree+st.TotalOutDegree) / float64(n)
	if n > 1 {
		st.Density = float64(len(edges)) / float64(n*(n-1))
	}
	st.ClusteringCoefficient = clusteringCoefficient(members, neighbors)
	st.Depth = levelDepth(s, members, inComp, inDeg)
	st.Breadth = dependentCount(s, members)
	g.Stats = st

	switch {
	case n == 1:
		g.Type = GraphIsolated
	case hasSelfLoop || hasDirectedCycle(s, members, inComp):
		g.Type = GraphCircular
	case isSimplePath(members, neighbors, len(edges)):
		g.Type = GraphLinear
	default:
		g.Type = GraphBoundary
	}
	return g
}

func addNeighbor(neighbors map[ItemID]map[ItemID]bool, a, b ItemID) {
	set, ok := neighbors[a]
	if !ok {
		set = make(map[ItemID]bool)
		neighbors[a] = set
	}
	set[b] = true
}

// hasDirectedCycle reports whether the component has a strongly connected
// component with more than one member.
func hasDirectedCycle(s *Snapshot, members []ItemID, inComp map[ItemID]bool) bool {
	directed := simple.NewDirectedGraph()
	for _, m := range members {
		directed.AddNode(simple.Node(int64(m)))
	}
	for _, x := range members {
		for _, d := range s.deps[x] {
			if d != x && inComp[d] {
				directed.SetEdge(simple.Edge{F: simple.Node(int64(x)), T: simple.Node(int64(d))})
			}
		}
	}
	for _, scc := range topo.TarjanSCC(directed) {
		if len(scc) > 1 {
			return true
		}
	}
	return false
}

// isSimplePath checks edges == n-1 with exactly two endpoints of degree 1
// and every other node of degree 2.
func isSimplePath(members []ItemID, neighbors map[ItemID]map[ItemID]bool, edgeCount int) bool {
	if edgeCount != len(members)-1 {
		return false
	}
	ends := 0
	for _, m := range members {
		switch len(neighbors[m]) {
		case 1:
			ends++
		case 2:
		default:
			return false
		}
	}
	return ends == 2
}

// clusteringCoefficient averages the local clustering coefficient over all
// members, using undirected neighbor sets. Nodes with fewer than two
// neighbors contribute 0.
func clusteringCoefficient(members []ItemID, neighbors map[ItemID]map[ItemID]bool) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		nb := make([]ItemID, 0, len(neighbors[m]))
		for x := range neighbors[m] {
			nb = append(nb, x)
		}
		k := len(nb)
		if k < 2 {
			continue
		}
		links := 0
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if neighbors[nb[i]][nb[j]] {
					links++
				}
			}
		}
		sum += float64(links) / (float64(k*(k-1)) / 2)
	}
	return sum / float64(len(members))
}

// levelDepth runs a BFS along output -> input edges from the component's
// roots (members nothing else in the component depends on) and returns the
// deepest level. A component without roots starts from its first member.
func levelDepth(s *Snapshot, members []ItemID, inComp map[ItemID]bool, inDeg map[ItemID]int) int {
	var frontier []ItemID
	for _, m := range members {
		if inDeg[m] == 0 {
			frontier = append(frontier, m)
		}
	}
	if len(frontier) == 0 {
		frontier = []ItemID{members[0]}
	}

	seen := make(map[ItemID]bool, len(members))
	for _, m := range frontier {
		seen[m] = true
	}
	depth, level := 0, 0
	for len(frontier) > 0 {
		depth = level
		var next []ItemID
		for _, x := range frontier {
			for _, d := range s.deps[x] {
				if inComp[d] && !seen[d] {
					seen[d] = true
					next = append(next, d)
				}
			}
		}
		frontier = next
		level++
	}
	return depth
}

// dependentCount is the in-degree sum of members over the full dependency
// graph: each distinct item that uses a member as an input counts once for
// that member.
func dependentCount(s *Snapshot, members []ItemID) int {
	total := 0
	for _, m := range members {
		outs := make(map[ItemID]struct{}, len(s.consumers[m]))
		for _, ri := range s.consumers[m] {
			outs[s.ends[ri].out] = struct{}{}
		}
		total += len(outs)
	}
	return total
}
