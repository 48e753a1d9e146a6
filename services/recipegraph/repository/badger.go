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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// Key layout:
//
//	item/<name>       JSON graph.Item
//	recipe/<8-byte id> JSON graph.Recipe
//	meta/recipe_seq   badger sequence for recipes seeded without an id
const (
	itemPrefix   = "item/"
	recipePrefix = "recipe/"
	recipeSeqKey = "meta/recipe_seq"
)

// BadgerConfig configures a BadgerRepository.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// BadgerRepository stores items and recipes in a BadgerDB key-value store.
//
// Thread Safety: All methods are safe for concurrent use; badger
// transactions provide the isolation.
type BadgerRepository struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store described by cfg. A Path of
// ":memory:" is treated as InMemory.
func OpenBadger(cfg BadgerConfig) (*BadgerRepository, error) {
	if cfg.Path == ":memory:" {
		cfg.InMemory = true
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("repository: badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repository: open badger %q: %w", cfg.Path, err)
	}
	return &BadgerRepository{db: db}, nil
}

// Close closes the store.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// Seed writes ds in one transaction with the same merge rules as
// SQLiteRepository.Seed.
func (r *BadgerRepository) Seed(ctx context.Context, ds Dataset) error {
	var seq *badger.Sequence
	for _, rc := range ds.Recipes {
		if rc.ID == 0 {
			var err error
			if seq, err = r.db.GetSequence([]byte(recipeSeqKey), 64); err != nil {
				return fmt.Errorf("repository: recipe sequence: %w", err)
			}
			break
		}
	}
	if seq != nil {
		defer seq.Release()
	}

	return r.db.Update(func(txn *badger.Txn) error {
		for _, it := range ds.Items {
			if err := putItem(txn, it); err != nil {
				return err
			}
		}
		for _, it := range ds.BaseItems {
			it.IsBase = true
			if err := putItem(txn, it); err != nil {
				return err
			}
		}

		for _, rc := range ds.Recipes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rc.ID == 0 {
				id, err := nextRecipeID(txn, seq)
				if err != nil {
					return err
				}
				rc.ID = id
			}
			val, err := json.Marshal(rc)
			if err != nil {
				return fmt.Errorf("repository: encode recipe %s: %w", rc, err)
			}
			if err := txn.Set(recipeKey(rc.ID), val); err != nil {
				return fmt.Errorf("repository: save recipe %s: %w", rc, err)
			}
		}
		return nil
	})
}

// nextRecipeID draws ids from seq until one is not already taken by an
// explicitly numbered recipe.
func nextRecipeID(txn *badger.Txn, seq *badger.Sequence) (int64, error) {
	for {
		n, err := seq.Next()
		if err != nil {
			return 0, fmt.Errorf("repository: recipe sequence: %w", err)
		}
		id := int64(n) + 1
		_, err = txn.Get(recipeKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return id, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// putItem upserts it. An existing glyph survives an empty one and the
// base flag is never cleared.
func putItem(txn *badger.Txn, it graph.Item) error {
	key := []byte(itemPrefix + it.Name)

	existing, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("repository: read item %q: %w", it.Name, err)
	default:
		var prev graph.Item
		if err := existing.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
			return fmt.Errorf("repository: decode item %q: %w", it.Name, err)
		}
		if it.Glyph == "" {
			it.Glyph = prev.Glyph
		}
		it.IsBase = it.IsBase || prev.IsBase
	}

	val, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("repository: encode item %q: %w", it.Name, err)
	}
	if err := txn.Set(key, val); err != nil {
		return fmt.Errorf("repository: save item %q: %w", it.Name, err)
	}
	return nil
}

func recipeKey(id int64) []byte {
	key := make([]byte, len(recipePrefix)+8)
	copy(key, recipePrefix)
	binary.BigEndian.PutUint64(key[len(recipePrefix):], uint64(id))
	return key
}

// ListRecipes implements Repository. Recipes are ordered by id.
func (r *BadgerRepository) ListRecipes(ctx context.Context) ([]graph.Recipe, error) {
	var out []graph.Recipe
	err := r.scan(ctx, recipePrefix, func(v []byte) error {
		var rc graph.Recipe
		if err := json.Unmarshal(v, &rc); err != nil {
			return fmt.Errorf("repository: decode recipe: %w", err)
		}
		out = append(out, rc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListItems implements Repository. Items are ordered by name.
func (r *BadgerRepository) ListItems(ctx context.Context) ([]graph.Item, error) {
	return r.listItems(ctx, false)
}

// ListBaseItems implements Repository.
func (r *BadgerRepository) ListBaseItems(ctx context.Context) ([]graph.Item, error) {
	return r.listItems(ctx, true)
}

func (r *BadgerRepository) listItems(ctx context.Context, baseOnly bool) ([]graph.Item, error) {
	var out []graph.Item
	err := r.scan(ctx, itemPrefix, func(v []byte) error {
		var it graph.Item
		if err := json.Unmarshal(v, &it); err != nil {
			return fmt.Errorf("repository: decode item: %w", err)
		}
		if !baseOnly || it.IsBase {
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Byte order of UTF-8 keys already matches string order; sort anyway
	// so the contract does not depend on the key encoding.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// scan calls fn with every value under prefix in key order.
func (r *BadgerRepository) scan(ctx context.Context, prefix string, fn func(v []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
