// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// MemoryRepository is an in-process Repository.
//
// Thread Safety: All methods are safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	recipes []graph.Recipe
	items   []graph.Item
	base    []graph.Item
	nextID  int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

// NewMemoryRepositoryFrom creates a repository holding ds.
func NewMemoryRepositoryFrom(ds Dataset) *MemoryRepository {
	m := NewMemoryRepository()
	m.Replace(ds)
	return m
}

// AddRecipe appends a recipe with inputs in normalized order and returns
// its id.
func (m *MemoryRepository) AddRecipe(a, b, output string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := graph.Recipe{ID: m.nextID, InputA: a, InputB: b, Output: output}.Normalized()
	m.nextID++
	m.recipes = append(m.recipes, r)
	return r.ID
}

// AddItem appends an item record. Base items are also added to the base
// set.
func (m *MemoryRepository) AddItem(it graph.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, it)
	if it.IsBase {
		m.base = append(m.base, it)
	}
}

// Replace swaps in a complete dataset.
func (m *MemoryRepository) Replace(ds Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recipes = slices.Clone(ds.Recipes)
	m.items = slices.Clone(ds.Items)
	m.base = slices.Clone(ds.BaseItems)
	m.nextID = 1
	for _, r := range m.recipes {
		m.nextID = max(m.nextID, r.ID+1)
	}
}

// ListRecipes implements Repository.
func (m *MemoryRepository) ListRecipes(ctx context.Context) ([]graph.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.recipes), ctx.Err()
}

// ListItems implements Repository.
func (m *MemoryRepository) ListItems(ctx context.Context) ([]graph.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items), ctx.Err()
}

// ListBaseItems implements Repository.
func (m *MemoryRepository) ListBaseItems(ctx context.Context) ([]graph.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.base), ctx.Err()
}
