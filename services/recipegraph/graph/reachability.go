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
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Reachability partitions a snapshot's items into reachable and
// unreachable sets.
type Reachability struct {
	reachable   *roaring.Bitmap
	unreachable *roaring.Bitmap

	// order is the BFS discovery order, base items first.
	order []ItemID

	// level is the minimum recipe depth, -1 when unreachable.
	level []int32

	// witness is the recipe that first made an item reachable, -1 for base
	// and unreachable items.
	witness []int32

	validRecipes int
}

// Analyze runs the AND-reachability BFS from the base items.
//
// Description:
//
//	Each dequeued item scans the recipes consuming it. A recipe fires when
//	its other input has already been dequeued; its output, if new, is
//	enqueued one level deeper. Firing only on dequeued inputs keeps the
//	queue ordered by level, so Level is the minimum recipe depth.
//
// Complexity:
//
//	O(items + recipes): each recipe is examined once per distinct input.
func Analyze(ctx context.Context, s *Snapshot) *Reachability {
	_, span := startAnalysisSpan(ctx, "Reachability")
	defer span.End()
	start := time.Now()

	n := s.NumItems()
	r := &Reachability{
		reachable: roaring.New(),
		order:     make([]ItemID, 0, n),
		level:     make([]int32, n),
		witness:   make([]int32, n),
	}
	for i := range r.level {
		r.level[i] = -1
		r.witness[i] = -1
	}

	processed := make([]bool, n)
	it := s.base.Iterator()
	for it.HasNext() {
		id := ItemID(it.Next())
		r.reachable.Add(uint32(id))
		r.level[id] = 0
		r.order = append(r.order, id)
	}

	for head := 0; head < len(r.order); head++ {
		x := r.order[head]
		processed[x] = true
		for _, ri := range s.consumers[x] {
			e := s.ends[ri]
			other := e.a
			if other == x {
				other = e.b
			}
			if !processed[other] || r.level[e.out] >= 0 {
				continue
			}
			r.reachable.Add(uint32(e.out))
			r.level[e.out] = r.level[x] + 1
			r.witness[e.out] = int32(ri)
			r.order = append(r.order, e.out)
		}
	}

	r.unreachable = roaring.New()
	if n > 0 {
		r.unreachable.AddRange(0, uint64(n))
	}
	r.unreachable.AndNot(r.reachable)

	for i := range s.recipes {
		if !s.usable[i] {
			continue
		}
		e := s.ends[i]
		if r.level[e.a] >= 0 && r.level[e.b] >= 0 {
			r.validRecipes++
		}
	}

	recordAnalysisMetrics(ctx, "reachability", time.Since(start))
	return r
}

// IsReachable reports whether id is reachable from the base items.
func (r *Reachability) IsReachable(id ItemID) bool {
	return int(id) < len(r.level) && r.level[id] >= 0
}

// Level returns the minimum recipe depth of id, or -1 when unreachable.
func (r *Reachability) Level(id ItemID) int {
	return int(r.level[id])
}

// Witness returns the recipe that first made id reachable.
func (r *Reachability) Witness(id ItemID) (int, bool) {
	w := r.witness[id]
	return int(w), w >= 0
}

// Reachable returns the reachable set. The bitmap must not be modified.
func (r *Reachability) Reachable() *roaring.Bitmap { return r.reachable }

// Unreachable returns the unreachable set. The bitmap must not be modified.
func (r *Reachability) Unreachable() *roaring.Bitmap { return r.unreachable }

// Order returns reachable items in discovery order.
func (r *Reachability) Order() []ItemID { return r.order }

// Count returns the number of reachable items.
func (r *Reachability) Count() int { return len(r.order) }

// ValidRecipes counts usable recipes whose inputs are both reachable.
func (r *Reachability) ValidRecipes() int { return r.validRecipes }

// VerifyReachability checks the inductive invariant: every reachable
// non-base item has a witness recipe whose inputs are reachable at a
// strictly lower level. A violation means the witness chain contains a
// cycle among reachable items.
func VerifyReachability(s *Snapshot, r *Reachability) error {
	for _, id := range r.order {
		if s.IsBase(id) {
			if r.level[id] != 0 {
				return fmt.Errorf("%w: base item %q at level %d", ErrInvariantViolation, s.Name(id), r.level[id])
			}
			continue
		}
		w := r.witness[id]
		if w < 0 {
			return fmt.Errorf("%w: reachable item %q has no witness recipe", ErrInvariantViolation, s.Name(id))
		}
		e := s.ends[w]
		lv := r.level[id]
		if e.out != id || r.level[e.a] < 0 || r.level[e.b] < 0 || r.level[e.a] >= lv || r.level[e.b] >= lv {
			return fmt.Errorf("%w: cycle through reachable item %q via %s",
				ErrInvariantViolation, s.Name(id), s.recipes[w])
		}
	}
	return nil
}
