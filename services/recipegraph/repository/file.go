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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// FileRepository serves a dataset read from a YAML or JSON file.
//
// The file is parsed on LoadFile and again on every Reload; List calls
// return the last successfully parsed content. A failed Reload keeps the
// previous content.
//
// Thread Safety: All methods are safe for concurrent use.
type FileRepository struct {
	path string

	mu sync.RWMutex
	ds Dataset
}

// LoadFile parses path. The format is chosen by extension: .yaml, .yml or
// .json.
func LoadFile(ctx context.Context, path string) (*FileRepository, error) {
	r := &FileRepository{path: path}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the data file path.
func (r *FileRepository) Path() string { return r.path }

// Reload re-reads the data file.
func (r *FileRepository) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := ReadDataset(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ds = ds
	r.mu.Unlock()
	return nil
}

// ReadDataset parses a YAML or JSON data file.
func ReadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading data file: %w", err)
	}

	var ds Dataset
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ds)
	case ".json":
		err = json.Unmarshal(data, &ds)
	default:
		return Dataset{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("parsing data file %s: %w", path, err)
	}
	return ds, nil
}

// WriteDataset writes ds to path as YAML or JSON by extension.
func WriteDataset(path string, ds Dataset) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(ds)
	case ".json":
		data, err = json.MarshalIndent(ds, "", "  ")
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ListRecipes implements Repository.
func (r *FileRepository) ListRecipes(ctx context.Context) ([]graph.Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ds.Recipes), ctx.Err()
}

// ListItems implements Repository.
func (r *FileRepository) ListItems(ctx context.Context) ([]graph.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ds.Items), ctx.Err()
}

// ListBaseItems implements Repository.
func (r *FileRepository) ListBaseItems(ctx context.Context) ([]graph.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ds.BaseItems), ctx.Err()
}
