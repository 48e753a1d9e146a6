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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
	"github.com/AleutianAI/craftgraph/services/recipegraph/repository"
)

const testData = `base_items:
  - name: 水
  - name: 火
  - name: 木
recipes:
  - {id: 1, input_a: 水, input_b: 火, output: 蒸汽}
  - {id: 2, input_a: 木, input_b: 蒸汽, output: 船}
  - {id: 3, input_a: B, input_b: B, output: A}
  - {id: 4, input_a: A, input_b: A, output: B}
`

// writeTestData writes the shared fixture and returns its path.
func writeTestData(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testData), 0o644))
	return path
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestPathCommand_Table(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "path", "船")
	require.NoError(t, err)

	assert.Contains(t, out, "船 (first_match)")
	assert.Contains(t, out, "船 ← 木 + 蒸汽\n├─ 木\n└─ 蒸汽 ← 水 + 火\n   ├─ 水\n   └─ 火\n")
	assert.Regexp(t, `depth:\s+2\n`, out)
	assert.Regexp(t, `width:\s+2\n`, out)
	assert.Regexp(t, `total materials:\s+3\n`, out)
}

func TestPathCommand_JSON(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "-o", "json", "--policy", "min-depth", "path", "船")
	require.NoError(t, err)

	var got struct {
		Item   string `json:"item"`
		Policy string `json:"policy"`
		Tree   struct {
			Item     string            `json:"item"`
			IsBase   bool              `json:"is_base"`
			Children []json.RawMessage `json:"children"`
		} `json:"tree"`
		Stats graph.PathStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, "船", got.Item)
	assert.Equal(t, "min_depth", got.Policy)
	assert.Equal(t, "船", got.Tree.Item)
	assert.False(t, got.Tree.IsBase)
	assert.Len(t, got.Tree.Children, 2)
	assert.Equal(t, 2, got.Stats.Depth)
	assert.Equal(t, map[string]int{"水": 1, "火": 1, "木": 1}, got.Stats.Materials)
}

func TestPathCommand_NotFound(t *testing.T) {
	data := writeTestData(t)

	for _, item := range []string{"不存在", "A"} {
		t.Run(item, func(t *testing.T) {
			out, _, err := execute(t, "--data", data, "path", item)
			require.Error(t, err)
			assert.ErrorIs(t, err, errNotFound)
			assert.Equal(t, exitNotFound, exitCode(err))
			assert.Contains(t, out, "not found")
		})
	}
}

func TestReachCommand(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "reach", "船")
	require.NoError(t, err)
	assert.Contains(t, out, "船 is reachable")
	assert.Regexp(t, `min depth:\s+2\n`, out)
	assert.Contains(t, out, "木 + 蒸汽 = 船")

	out, _, err = execute(t, "--data", data, "reach", "  船 ")
	require.NoError(t, err, "surrounding whitespace is trimmed")
	assert.Contains(t, out, "船 is reachable")

	out, _, err = execute(t, "--data", data, "reach", "A")
	require.NoError(t, err)
	assert.Contains(t, out, "A is not reachable")
	assert.NotContains(t, out, "min depth")

	_, _, err = execute(t, "--data", data, "reach", "不存在")
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestStatsCommand_JSON(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "-o", "json", "stats")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 4, got["total_recipes"])
	assert.EqualValues(t, 7, got["total_items"])
	assert.EqualValues(t, 3, got["base_items"])
	assert.EqualValues(t, 5, got["reachable_items"])
	assert.EqualValues(t, 2, got["unreachable_items"])
	assert.Len(t, got["fingerprint"], 16)
}

func TestStatsCommand_Table(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Reachable items")
	assert.Regexp(t, `Unreachable items\s+2`, out)
}

func TestIcicleCommand_Limit(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "-o", "json", "icicle", "--limit", "2")
	require.NoError(t, err)

	var chart graph.IcicleChart
	require.NoError(t, json.Unmarshal([]byte(out), &chart))
	assert.Equal(t, 5, chart.TotalElements)
	require.Len(t, chart.Nodes, 2)
	for _, n := range chart.Nodes {
		assert.True(t, n.IsBase, "base items sort first")
	}

	out, _, err = execute(t, "--data", data, "icicle", "船")
	require.NoError(t, err)
	assert.Regexp(t, `shown:\s+1 of 1`, out)
}

func TestUnreachableCommand_JSON(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "-o", "json", "unreachable")
	require.NoError(t, err)

	var got struct {
		Graphs []struct {
			Type  string   `json:"type"`
			Nodes []string `json:"nodes"`
		} `json:"graphs"`
		SystemStats struct {
			TotalUnreachableItems int `json:"total_unreachable_items"`
		} `json:"system_stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Graphs, 1)
	assert.Equal(t, "circular", got.Graphs[0].Type)
	assert.ElementsMatch(t, []string{"A", "B"}, got.Graphs[0].Nodes)
	assert.Equal(t, 2, got.SystemStats.TotalUnreachableItems)
}

func TestCacheStatusCommand(t *testing.T) {
	data := writeTestData(t)

	out, _, err := execute(t, "--data", data, "-o", "json", "cache-status")
	require.NoError(t, err)
	var warm map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &warm))
	assert.Equal(t, true, warm["present"])
	assert.EqualValues(t, 4, warm["recipes"])

	out, _, err = execute(t, "--data", data, "cache-status", "--warm=false")
	require.NoError(t, err)
	assert.Contains(t, out, "no analysis cached")
}

func TestSQLiteData(t *testing.T) {
	ctx := context.Background()
	data := writeTestData(t)
	ds, err := repository.ReadDataset(data)
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "recipes.db")
	repo, err := repository.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Seed(ctx, ds))
	require.NoError(t, repo.Close())

	out, _, err := execute(t, "--data", dbPath, "-o", "json", "stats")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 5, got["reachable_items"])
}

func TestInvalidInvocations(t *testing.T) {
	data := writeTestData(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad output format", []string{"--data", data, "-o", "xml", "stats"}},
		{"bad policy", []string{"--data", data, "--policy", "shortest", "stats"}},
		{"missing data file", []string{"--data", filepath.Join(t.TempDir(), "nope.yaml"), "stats"}},
		{"watch needs file driver", []string{"--driver", "memory", "watch"}},
		{"path needs an item", []string{"--data", data, "path"}},
		{"blank item", []string{"--data", data, "reach", "  "}},
		{"control character in item", []string{"--data", data, "icicle", "船\x00船"}},
		{"embedded newline in item", []string{"--data", data, "path", "船\n船"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.NotErrorIs(t, err, errNotFound)
		})
	}
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, "sqlite", driverFor("x.db"))
	assert.Equal(t, "sqlite", driverFor("/data/Recipes.SQLITE"))
	assert.Equal(t, "file", driverFor("recipes.yaml"))
	assert.Equal(t, "file", driverFor("recipes.json"))
	assert.Equal(t, "badger", driverFor("/var/lib/recipes.badger"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitNotFound, exitCode(&notFoundError{Item: "x"}))
}
