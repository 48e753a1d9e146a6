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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLRU_EvictsLeastRecent checks capacity eviction order.
func TestLRU_EvictsLeastRecent(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	st := c.Stats()
	assert.Equal(t, 2, st.Len)
	assert.Equal(t, int64(1), st.Evictions)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

// TestLRU_TTL checks lazy expiry.
func TestLRU_TTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRU[string, int](4, time.Hour)
	c.now = func() time.Time { return now }

	c.Set("k", 7)
	now = now.Add(59 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// TestLRU_UpdateDeletePurge checks the remaining operations.
func TestLRU_UpdateDeletePurge(t *testing.T) {
	c := NewLRU[int, string](0, 0)
	assert.Equal(t, 10, c.Stats().Capacity)

	c.Set(1, "x")
	c.Set(1, "y")
	v, _ := c.Get(1)
	assert.Equal(t, "y", v)
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.Delete(1))
	assert.False(t, c.Delete(1))

	c.Set(2, "z")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

// TestDirtyTracker checks marking and draining.
func TestDirtyTracker(t *testing.T) {
	d := NewDirtyTracker()
	first := time.Unix(10, 0)
	d.now = func() time.Time { return first }
	d.MarkDirty("api", "b", "a")

	d.now = func() time.Time { return first.Add(time.Minute) }
	d.MarkDirty("watcher", "a")

	assert.Equal(t, 2, d.Pending())
	assert.True(t, d.IsDirty("a"))

	got := d.Drain()
	assert.Equal(t, "a", got[0].Item)
	assert.Equal(t, "api", got[0].Source)
	assert.Equal(t, first, got[0].MarkedAt)
	assert.Equal(t, "b", got[1].Item)
	assert.Equal(t, 0, d.Pending())
}
