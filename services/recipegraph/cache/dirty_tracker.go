// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"sort"
	"sync"
	"time"
)

// DirtyEntry records a pending item change.
type DirtyEntry struct {
	// Item is the item name as reported by the change source.
	Item string

	// MarkedAt is when the item was first marked dirty.
	MarkedAt time.Time

	// Source identifies who reported the change ("api", "watcher", ...).
	Source string
}

// DirtyTracker collects item names changed since the last installed build.
//
// Thread Safety: All methods are safe for concurrent use.
type DirtyTracker struct {
	mu    sync.Mutex
	dirty map[string]DirtyEntry
	now   func() time.Time
}

// NewDirtyTracker creates an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirty: make(map[string]DirtyEntry),
		now:   time.Now,
	}
}

// MarkDirty records items as changed. An item already pending keeps its
// original timestamp and source.
func (t *DirtyTracker) MarkDirty(source string, items ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, item := range items {
		if _, ok := t.dirty[item]; ok {
			continue
		}
		t.dirty[item] = DirtyEntry{Item: item, MarkedAt: now, Source: source}
	}
}

// Pending returns the number of pending items.
func (t *DirtyTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}

// IsDirty reports whether item is pending.
func (t *DirtyTracker) IsDirty(item string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dirty[item]
	return ok
}

// Drain returns the pending entries sorted by item and clears the tracker.
func (t *DirtyTracker) Drain() []DirtyEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DirtyEntry, 0, len(t.dirty))
	for _, e := range t.dirty {
		out = append(out, e)
	}
	t.dirty = make(map[string]DirtyEntry)

	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}
