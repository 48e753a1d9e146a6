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
	"fmt"
	"strings"
)

// Policy selects one recipe when several produce the same item.
type Policy uint8

const (
	// PolicyFirstMatch takes the first producing recipe in snapshot order,
	// whether or not its inputs are reachable. A reachable item can
	// therefore resolve to nil.
	PolicyFirstMatch Policy = iota

	// PolicyMinDepth takes the producing recipe with the shallowest
	// inputs, giving trees whose depth equals the item's BFS level.
	PolicyMinDepth

	// PolicyMinBreadth takes, among recipes that keep the tree acyclic, the
	// one whose inputs have the fewest alternative recipes.
	PolicyMinBreadth
)

var policyNames = map[Policy]string{
	PolicyFirstMatch: "first_match",
	PolicyMinDepth:   "min_depth",
	PolicyMinBreadth: "min_breadth",
}

// String returns the snake_case policy name.
func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy parses "first_match", "min_depth" or "min_breadth". Dashes
// are accepted in place of underscores.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "" {
		return PolicyFirstMatch, nil
	}
	for p, name := range policyNames {
		if name == norm {
			return p, nil
		}
	}
	return PolicyFirstMatch, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// strict reports whether the policy only picks level-decreasing recipes,
// which makes a cycle or a nil tree for a reachable item impossible.
func (p Policy) strict() bool {
	return p == PolicyMinDepth || p == PolicyMinBreadth
}

// choose returns the recipe index p selects for id, or -1.
func (p Policy) choose(s *Snapshot, r *Reachability, id ItemID) int {
	producers := s.producers[id]
	if len(producers) == 0 {
		return -1
	}
	if p == PolicyFirstMatch {
		return producers[0]
	}

	lv := r.level[id]
	if lv < 0 {
		return -1
	}

	best, bestDepth, bestCost := -1, int32(0), 0
	for _, ri := range producers {
		e := s.ends[ri]
		la, lb := r.level[e.a], r.level[e.b]
		if la < 0 || lb < 0 || la >= lv || lb >= lv {
			continue
		}
		depth := max(la, lb)
		switch p {
		case PolicyMinDepth:
			if best < 0 || depth < bestDepth {
				best, bestDepth = ri, depth
			}
		case PolicyMinBreadth:
			cost := s.breadthWeight(e.a) + s.breadthWeight(e.b)
			if best < 0 || cost < bestCost || (cost == bestCost && depth < bestDepth) {
				best, bestDepth, bestCost = ri, depth, cost
			}
		}
	}
	return best
}

// breadthWeight is the per-node breadth contribution: consumers for base
// items, producers otherwise.
func (s *Snapshot) breadthWeight(id ItemID) int {
	if s.items[id].IsBase {
		return len(s.consumers[id])
	}
	return len(s.producers[id])
}
