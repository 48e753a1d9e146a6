// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the recipe graph analyses: snapshot indexing,
// AND-reachability from base items, crafting-tree resolution, path
// statistics, unreachable-component classification and icicle layout.
//
// Recipes are hyperedges "input_a + input_b -> output". An item is
// reachable when some recipe producing it has both inputs reachable.
//
// # Ownership Model
//
// A Snapshot and everything derived from it (Reachability, TreeNode trees,
// UnreachableGraph results) is immutable once returned. Trees share
// sub-structure; callers MUST NOT mutate a TreeNode.
//
// # Thread Safety
//
// Snapshot and Reachability are read-only and safe for concurrent use.
// Resolver and StatsCalculator memoize lazily behind a mutex and are also
// safe for concurrent use.
//
// # Lifecycle
//
//  1. BuildSnapshot from repository records
//  2. Analyze for the reachable set
//  3. NewResolver per path policy, Resolve items on demand
//  4. ClassifyUnreachable / BuildIcicle for reporting
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrInvariantViolation is returned when the analysis finds a state that
	// AND-reachability makes impossible, such as a cycle among reachable
	// items. It always indicates a bug, never bad data.
	ErrInvariantViolation = errors.New("graph invariant violation")

	// ErrMalformedRecipe wraps the reason a recipe record was excluded from
	// the indices. Such recipes are reported in Snapshot.Skipped.
	ErrMalformedRecipe = errors.New("malformed recipe")

	// ErrMaxRecipesExceeded is returned when the input holds more recipes
	// than the configured limit.
	ErrMaxRecipesExceeded = errors.New("maximum recipe count exceeded")

	// ErrTooManyItems is returned when the item count does not fit an ItemID.
	ErrTooManyItems = errors.New("too many items")

	// ErrUnknownPolicy is returned by ParsePolicy for unrecognized names.
	ErrUnknownPolicy = errors.New("unknown path policy")
)
