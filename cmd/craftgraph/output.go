// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/AleutianAI/craftgraph/pkg/ux"
	"github.com/AleutianAI/craftgraph/services/recipegraph"
	"github.com/AleutianAI/craftgraph/services/recipegraph/cache"
	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// maxListedNodes caps the node names shown per unreachable graph row.
const maxListedNodes = 6

func (a *app) jsonOutput() bool { return a.format == "json" }

// writeJSON writes v as indented JSON without HTML escaping.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// newTable returns a borderless left-aligned table.
func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{
				Left:   tw.Off,
				Right:  tw.Off,
				Top:    tw.Off,
				Bottom: tw.Off,
			},
			Settings: tw.Settings{
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		}),
	)
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := newTable(w)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// notFound reports item as missing and returns the error that selects
// exit status 2.
func (a *app) notFound(item string) error {
	if a.jsonOutput() {
		if err := writeJSON(a.out, map[string]string{"error": "not found", "item": item}); err != nil {
			return err
		}
	} else {
		a.printer.Status(ux.IconError, fmt.Sprintf("%s: not found or not craftable", item))
	}
	return &notFoundError{Item: item}
}

// =============================================================================
// PATH
// =============================================================================

func (a *app) renderPath(p *recipegraph.CraftingPath) error {
	if a.jsonOutput() {
		return writeJSON(a.out, p)
	}

	a.printer.Title(fmt.Sprintf("%s (%s)", p.Item, p.Policy))
	writeTree(a.out, p.Tree, "", true, true)
	fmt.Fprintln(a.out)

	a.printer.Field("depth", p.Stats.Depth)
	a.printer.Field("width", p.Stats.Width)
	a.printer.Field("breadth", p.Stats.Breadth)
	a.printer.Field("total materials", p.Stats.TotalMaterials)
	fmt.Fprintln(a.out)

	names := make([]string, 0, len(p.Stats.Materials))
	for name := range p.Stats.Materials {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(p.Stats.Materials[name])})
	}
	return renderTable(a.out, []string{"Material", "Count"}, rows)
}

// writeTree prints n as an indented tree, one node per line. Internal
// nodes show the recipe that makes them.
func writeTree(w io.Writer, n *graph.TreeNode, prefix string, last, root bool) {
	if n == nil {
		return
	}

	line := n.Name
	if n.Glyph != "" {
		line = n.Glyph + " " + line
	}
	if !n.IsLeaf() && n.Left != nil && n.Right != nil {
		line += " ← " + n.Left.Name + " + " + n.Right.Name
	}

	childPrefix := prefix
	switch {
	case root:
		fmt.Fprintln(w, line)
	case last:
		fmt.Fprintf(w, "%s└─ %s\n", prefix, line)
		childPrefix += "   "
	default:
		fmt.Fprintf(w, "%s├─ %s\n", prefix, line)
		childPrefix += "│  "
	}

	children := n.Children()
	for i, c := range children {
		writeTree(w, c, childPrefix, i == len(children)-1, false)
	}
}

// =============================================================================
// REACH / STATS
// =============================================================================

func (a *app) renderReach(st *recipegraph.ReachabilityStats) error {
	if a.jsonOutput() {
		return writeJSON(a.out, st)
	}

	if st.Reachable {
		a.printer.Status(ux.IconSuccess, st.Item+" is reachable")
	} else {
		a.printer.Status(ux.IconWarning, st.Item+" is not reachable")
	}
	a.printer.Field("base item", st.IsBase)
	if st.Reachable {
		a.printer.Field("min depth", st.MinDepth)
	}
	a.printer.Field("producing recipes", st.ProducingRecipes)
	a.printer.Field("usable producers", st.UsableProducingRecipes)
	a.printer.Field("consuming recipes", st.ConsumingRecipes)
	if st.Witness != nil {
		a.printer.Field("first reached by", st.Witness.String())
	}
	return nil
}

func (a *app) renderGraphStats(st *recipegraph.GraphStats) error {
	if a.jsonOutput() {
		return writeJSON(a.out, st)
	}

	rows := [][]string{
		{"Total recipes", strconv.Itoa(st.TotalRecipes)},
		{"Valid recipes", strconv.Itoa(st.ValidRecipes)},
		{"Invalid recipes", strconv.Itoa(st.InvalidRecipes)},
		{"Circular recipes", strconv.Itoa(st.CircularRecipes)},
		{"Skipped recipes", strconv.Itoa(st.SkippedRecipes)},
		{"Total items", strconv.Itoa(st.TotalItems)},
		{"Base items", strconv.Itoa(st.BaseItems)},
		{"Reachable items", strconv.Itoa(st.ReachableItems)},
		{"Unreachable items", strconv.Itoa(st.UnreachableItems)},
		{"Circular items", strconv.Itoa(st.CircularItems)},
		{"Synthesized items", strconv.Itoa(st.SynthesizedItems)},
		{"Self loops", strconv.Itoa(st.SelfLoops)},
		{"Version", strconv.FormatUint(st.Version, 10)},
		{"Fingerprint", st.Fingerprint},
	}
	return renderTable(a.out, []string{"Metric", "Value"}, rows)
}

// =============================================================================
// ICICLE / UNREACHABLE
// =============================================================================

func (a *app) renderIcicle(chart *graph.IcicleChart) error {
	if a.jsonOutput() {
		return writeJSON(a.out, chart)
	}

	rows := make([][]string, 0, len(chart.Nodes))
	for _, n := range chart.Nodes {
		var depth, width, breadth int
		if n.Stats != nil {
			depth, width, breadth = n.Stats.Depth, n.Stats.Width, n.Stats.Breadth
		}
		rows = append(rows, []string{
			n.Name,
			strconv.Itoa(depth),
			strconv.Itoa(width),
			strconv.Itoa(breadth),
			strconv.Itoa(n.Value),
		})
	}
	if err := renderTable(a.out, []string{"Item", "Depth", "Width", "Breadth", "Materials"}, rows); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	a.printer.Field("shown", fmt.Sprintf("%d of %d", len(chart.Nodes), chart.TotalElements))
	a.printer.Field("max depth", chart.MaxDepth)
	return nil
}

func (a *app) renderUnreachable(r *recipegraph.UnreachableReport) error {
	if a.jsonOutput() {
		return writeJSON(a.out, r)
	}

	rows := make([][]string, 0, len(r.Graphs))
	for _, g := range r.Graphs {
		nodes := g.Nodes
		suffix := ""
		if len(nodes) > maxListedNodes {
			nodes = nodes[:maxListedNodes]
			suffix = ", …"
		}
		rows = append(rows, []string{
			g.ID,
			g.Type.String(),
			strconv.Itoa(g.Stats.Size),
			strconv.Itoa(g.Stats.EdgeCount),
			strconv.Itoa(g.Stats.Depth),
			strings.Join(nodes, ", ") + suffix,
		})
	}
	if err := renderTable(a.out, []string{"Graph", "Type", "Size", "Edges", "Depth", "Items"}, rows); err != nil {
		return err
	}
	fmt.Fprintln(a.out)

	ss := r.SystemStats
	a.printer.Field("reachable items", ss.TotalValidItems)
	a.printer.Field("unreachable items", ss.TotalUnreachableItems)
	a.printer.Field("unreachable graphs", ss.UnreachableGraphCount)
	a.printer.Field("max path depth", ss.ValidGraphStats.MaxDepth)
	a.printer.Field("avg path depth", fmt.Sprintf("%.2f", ss.ValidGraphStats.AvgDepth))
	return nil
}

// =============================================================================
// CACHE STATUS
// =============================================================================

func (a *app) renderCacheStatus(st cache.Status) error {
	if a.jsonOutput() {
		return writeJSON(a.out, st)
	}

	if !st.Present {
		a.printer.Status(ux.IconPending, "no analysis cached")
	} else if st.Expired {
		a.printer.Status(ux.IconWarning, "analysis expired")
	} else {
		a.printer.Status(ux.IconSuccess, "analysis cached")
	}
	a.printer.Field("version", st.Version)
	if st.Present {
		a.printer.Field("build id", st.BuildID)
		a.printer.Field("built at", st.BuiltAt.Format(time.RFC3339))
		a.printer.Field("age", st.Age.Round(time.Millisecond))
		a.printer.Field("fingerprint", st.Fingerprint)
		a.printer.Field("items", st.Items)
		a.printer.Field("recipes", st.Recipes)
	}
	ttl := "none"
	if st.TTL > 0 {
		ttl = st.TTL.String()
	}
	a.printer.Field("ttl", ttl)
	a.printer.Field("pending changes", st.PendingChanges)
	a.printer.Field("hit rate", fmt.Sprintf("%.1f%%", st.Stats.HitRate()))
	a.printer.Field("builds", st.Stats.Builds)
	a.printer.Field("build failures", st.Stats.BuildFailures)
	return nil
}
