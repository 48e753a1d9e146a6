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
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/craftgraph/services/recipegraph/graph"
)

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations are applied in order by OpenSQLite.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "items and recipes",
		SQL: `CREATE TABLE IF NOT EXISTS items (
			name    TEXT PRIMARY KEY,
			glyph   TEXT NOT NULL DEFAULT '',
			is_base INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS recipes (
			id      INTEGER PRIMARY KEY,
			input_a TEXT NOT NULL,
			input_b TEXT NOT NULL,
			output  TEXT NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "recipe lookup indexes",
		SQL: `CREATE INDEX IF NOT EXISTS idx_recipes_output ON recipes(output);
		CREATE INDEX IF NOT EXISTS idx_items_base ON items(is_base);`,
	},
}

// SQLiteRepository reads recipe data from a SQLite database.
//
// Thread Safety: All methods are safe for concurrent use. The pool is
// limited to one connection.
type SQLiteRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite opens (or creates) the database at path, applies PRAGMAs and
// runs pending migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open db %q: %w", path, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("repository: set pragma %q: %w", p, err)
		}
	}

	r := &SQLiteRepository{db: conn}
	if err := r.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := r.db.ExecContext(ctx, createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := r.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := r.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("repository: schema version: %w", err)
	}
	return int(v.Int64), nil
}

// Seed writes ds in one transaction. Items are upserted; a base item
// keeps its base flag even if it also appears in ds.Items. Recipes with a
// zero ID get the next free id.
func (r *SQLiteRepository) Seed(ctx context.Context, ds Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin tx (seed): %w", err)
	}
	defer tx.Rollback()

	const upsertItem = `INSERT INTO items (name, glyph, is_base) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			glyph   = CASE WHEN excluded.glyph != '' THEN excluded.glyph ELSE items.glyph END,
			is_base = MAX(items.is_base, excluded.is_base)`
	itemStmt, err := tx.PrepareContext(ctx, upsertItem)
	if err != nil {
		return fmt.Errorf("repository: prepare item upsert: %w", err)
	}
	defer itemStmt.Close()

	for _, it := range ds.Items {
		if _, err := itemStmt.ExecContext(ctx, it.Name, it.Glyph, boolToInt(it.IsBase)); err != nil {
			return fmt.Errorf("repository: save item %q: %w", it.Name, err)
		}
	}
	for _, it := range ds.BaseItems {
		if _, err := itemStmt.ExecContext(ctx, it.Name, it.Glyph, 1); err != nil {
			return fmt.Errorf("repository: save base item %q: %w", it.Name, err)
		}
	}

	recipeStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO recipes (id, input_a, input_b, output) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("repository: prepare recipe insert: %w", err)
	}
	defer recipeStmt.Close()

	for _, rc := range ds.Recipes {
		var id any
		if rc.ID != 0 {
			id = rc.ID
		}
		if _, err := recipeStmt.ExecContext(ctx, id, rc.InputA, rc.InputB, rc.Output); err != nil {
			return fmt.Errorf("repository: save recipe %s: %w", rc, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit seed: %w", err)
	}
	return nil
}

// ListRecipes implements Repository. Rows are ordered by id.
func (r *SQLiteRepository) ListRecipes(ctx context.Context) ([]graph.Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `SELECT id, input_a, input_b, output FROM recipes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: list recipes: %w", err)
	}
	defer rows.Close()

	var out []graph.Recipe
	for rows.Next() {
		var rc graph.Recipe
		if err := rows.Scan(&rc.ID, &rc.InputA, &rc.InputB, &rc.Output); err != nil {
			return nil, fmt.Errorf("repository: scan recipe: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ListItems implements Repository. Rows are ordered by name.
func (r *SQLiteRepository) ListItems(ctx context.Context) ([]graph.Item, error) {
	return r.queryItems(ctx, `SELECT name, glyph, is_base FROM items ORDER BY name`)
}

// ListBaseItems implements Repository.
func (r *SQLiteRepository) ListBaseItems(ctx context.Context) ([]graph.Item, error) {
	return r.queryItems(ctx, `SELECT name, glyph, is_base FROM items WHERE is_base = 1 ORDER BY name`)
}

func (r *SQLiteRepository) queryItems(ctx context.Context, q string) ([]graph.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("repository: list items: %w", err)
	}
	defer rows.Close()

	var out []graph.Item
	for rows.Next() {
		var (
			it     graph.Item
			isBase int
		)
		if err := rows.Scan(&it.Name, &it.Glyph, &isBase); err != nil {
			return nil, fmt.Errorf("repository: scan item: %w", err)
		}
		it.IsBase = isBase != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
