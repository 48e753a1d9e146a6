// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repository supplies recipe data to the analysis engine.
//
// A Repository returns the three record sets a snapshot is built from.
// Implementations return copies; callers may keep or modify the slices.
// MemoryRepository serves tests and embedding, FileRepository reads a
// YAML or JSON data file, SQLiteRepository reads a SQLite database and
// BadgerRepository reads a BadgerDB directory.
// Watcher reports changes to a data file so the cache can be invalidated.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

var (
	// ErrUnsupportedFormat is returned for data files with an unknown
	// extension.
	ErrUnsupportedFormat = errors.New("unsupported data file format")

	// ErrUnknownDriver is returned by Open for an unknown driver name.
	ErrUnknownDriver = errors.New("unknown repository driver")
)

// Repository is the read side of the recipe store.
type Repository interface {
	// ListRecipes returns every recipe record, malformed ones included.
	ListRecipes(ctx context.Context) ([]graph.Recipe, error)

	// ListItems returns every item record.
	ListItems(ctx context.Context) ([]graph.Item, error)

	// ListBaseItems returns the base items.
	ListBaseItems(ctx context.Context) ([]graph.Item, error)
}

// Reloader is implemented by repositories that cache their source and can
// re-read it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Dataset is a complete set of records, the unit FileRepository reads and
// SQLiteRepository seeds from.
type Dataset struct {
	BaseItems []graph.Item   `json:"base_items" yaml:"base_items"`
	Items     []graph.Item   `json:"items" yaml:"items"`
	Recipes   []graph.Recipe `json:"recipes" yaml:"recipes"`
}

// Fetch reads all three record sets from repo.
func Fetch(ctx context.Context, repo Repository) (Dataset, error) {
	var (
		ds  Dataset
		err error
	)
	if ds.Recipes, err = repo.ListRecipes(ctx); err != nil {
		return Dataset{}, err
	}
	if ds.Items, err = repo.ListItems(ctx); err != nil {
		return Dataset{}, err
	}
	if ds.BaseItems, err = repo.ListBaseItems(ctx); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// Open returns a repository for driver. path is ignored for "memory".
func Open(ctx context.Context, driver, path string) (Repository, error) {
	switch driver {
	case "memory":
		return NewMemoryRepository(), nil
	case "file":
		r, err := LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "sqlite":
		r, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "badger":
		r, err := OpenBadger(BadgerConfig{Path: path})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
