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
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/craftgraph/pkg/validation"
)

// MaxItemNameLength is the longest item name, in runes, accepted by the
// snapshot builder.
const MaxItemNameLength = validation.MaxItemNameLength

// ItemID is the dense arena index of an item inside one Snapshot. IDs are
// assigned in lexicographic name order and are only meaningful for the
// Snapshot that issued them.
type ItemID uint32

// Item is a craftable or base element.
type Item struct {
	// Name is the unique identifier.
	Name string `json:"name" yaml:"name" validate:"itemname"`

	// IsBase marks items that require no recipe.
	IsBase bool `json:"is_base" yaml:"is_base"`

	// Glyph is an optional display symbol (usually an emoji).
	Glyph string `json:"glyph,omitempty" yaml:"glyph,omitempty" validate:"max=64"`
}

// Recipe combines two inputs into one output. Inputs are expected in
// normalized order (InputA <= InputB) but unnormalized records are
// tolerated.
type Recipe struct {
	ID     int64  `json:"id" yaml:"id"`
	InputA string `json:"input_a" yaml:"input_a" validate:"itemname"`
	InputB string `json:"input_b" yaml:"input_b" validate:"itemname"`
	Output string `json:"output" yaml:"output" validate:"itemname"`
}

// String renders the recipe as "a + b = out".
func (r Recipe) String() string {
	return fmt.Sprintf("%s + %s = %s", r.InputA, r.InputB, r.Output)
}

// IsSelfLoop reports whether the output is also one of the inputs.
func (r Recipe) IsSelfLoop() bool {
	return r.Output == r.InputA || r.Output == r.InputB
}

// Normalized returns a copy with InputA <= InputB.
func (r Recipe) Normalized() Recipe {
	if r.InputA > r.InputB {
		r.InputA, r.InputB = r.InputB, r.InputA
	}
	return r
}

// recipeValidate checks Item and Recipe records. Initialized in init()
// with the itemname rule.
var recipeValidate *validator.Validate

func init() {
	recipeValidate = validator.New()
	_ = recipeValidate.RegisterValidation("itemname", validateItemName)
}

// validateItemName accepts non-blank, valid UTF-8 names without control
// characters and at most MaxItemNameLength runes.
func validateItemName(fl validator.FieldLevel) bool {
	return isValidItemName(fl.Field().String())
}

func isValidItemName(s string) bool {
	return validation.ValidateItemName(s) == nil
}

// =============================================================================
// Crafting trees
// =============================================================================

// NodeKind tags the two variants of a crafting-tree node.
type NodeKind uint8

const (
	// NodeLeaf is a base item with no children.
	NodeLeaf NodeKind = iota + 1

	// NodeInternal carries the chosen recipe and exactly two children.
	NodeInternal
)

// String returns "leaf" or "internal".
func (k NodeKind) String() string {
	switch k {
	case NodeLeaf:
		return "leaf"
	case NodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// TreeNode is one step of a resolved crafting tree.
//
// A NodeLeaf has nil Recipe, Left and Right. A NodeInternal has a non-nil
// Recipe and both children. Nodes are shared between trees of the same
// Resolver and must never be mutated.
type TreeNode struct {
	Kind   NodeKind
	ID     ItemID
	Name   string
	Glyph  string
	Recipe *Recipe
	Left   *TreeNode
	Right  *TreeNode
}

// IsLeaf reports whether n is a base leaf.
func (n *TreeNode) IsLeaf() bool {
	return n.Kind == NodeLeaf
}

// Children returns the two children of an internal node, or nil.
func (n *TreeNode) Children() []*TreeNode {
	if n.Kind != NodeInternal {
		return nil
	}
	return []*TreeNode{n.Left, n.Right}
}

// Equal reports structural equality: same items and same chosen recipe at
// every position.
func (n *TreeNode) Equal(o *TreeNode) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.Kind != o.Kind || n.Name != o.Name {
		return false
	}
	if n.Kind == NodeLeaf {
		return true
	}
	if *n.Recipe != *o.Recipe {
		return false
	}
	return n.Left.Equal(o.Left) && n.Right.Equal(o.Right)
}

type treeNodeJSON struct {
	Item     string      `json:"item"`
	Glyph    string      `json:"glyph,omitempty"`
	IsBase   bool        `json:"is_base"`
	Recipe   *Recipe     `json:"recipe,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// MarshalJSON renders the tree as nested {item, is_base, recipe, children}.
func (n *TreeNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeNodeJSON{
		Item:     n.Name,
		Glyph:    n.Glyph,
		IsBase:   n.Kind == NodeLeaf,
		Recipe:   n.Recipe,
		Children: n.Children(),
	})
}

// PathStats summarizes one crafting tree.
type PathStats struct {
	// Depth is the longest root-to-leaf recipe chain. A base item has 0.
	Depth int `json:"depth"`

	// Width is the number of recipe applications (internal nodes).
	Width int `json:"width"`

	// TotalMaterials counts base leaves with multiplicity.
	TotalMaterials int `json:"total_materials"`

	// Breadth sums, over non-root internal nodes, the number of recipes
	// producing that item, plus, for every base leaf, the number of recipes
	// consuming it.
	Breadth int `json:"breadth"`

	// Materials is the base item histogram.
	Materials map[string]int `json:"materials"`
}
