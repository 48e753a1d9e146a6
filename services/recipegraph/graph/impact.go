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

// DefaultImpactLimit caps the size of an AffectedItems result.
const DefaultImpactLimit = 1000

// AffectedItems returns the items whose analysis results can change when
// the named items gain or lose recipes.
//
// Description:
//
//	The result holds the changed items, their direct inputs (whose
//	consumer counts feed breadth) and everything downstream of them
//	through consuming recipes, in BFS order. Names unknown to s are kept
//	as-is so newly added items are still reported.
//
// Inputs:
//
//	limit - Maximum result size. <= 0 selects DefaultImpactLimit.
func AffectedItems(s *Snapshot, changed []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultImpactLimit
	}

	out := make([]string, 0, len(changed))
	seenName := make(map[string]bool, len(changed))
	seen := make([]bool, s.NumItems())
	var queue []ItemID

	add := func(id ItemID) bool {
		if seen[id] {
			return true
		}
		if len(out) >= limit {
			return false
		}
		seen[id] = true
		out = append(out, s.Name(id))
		queue = append(queue, id)
		return true
	}

	for _, name := range changed {
		if seenName[name] {
			continue
		}
		seenName[name] = true
		if id, ok := s.Lookup(name); ok {
			if !add(id) {
				return out
			}
		} else if len(out) < limit {
			out = append(out, name)
		}
	}

	// Upstream: one hop only.
	for _, id := range append([]ItemID(nil), queue...) {
		for _, d := range s.deps[id] {
			if seen[d] {
				continue
			}
			if len(out) >= limit {
				return out
			}
			seen[d] = true
			out = append(out, s.Name(d))
		}
	}

	// Downstream: transitive.
	for head := 0; head < len(queue); head++ {
		for _, ri := range s.consumers[queue[head]] {
			if !add(s.ends[ri].out) {
				return out
			}
		}
	}
	return out
}
