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
	"log/slog"
	"sync"
)

// Resolver builds crafting trees for one Snapshot and Policy.
//
// Results, including "known unresolvable", are memoized in an arena keyed
// by ItemID, so trees for different items share nodes.
//
// Thread Safety:
//
//	Safe for concurrent use. Resolution runs under one mutex, so
//	concurrent requests for the same item never duplicate work.
type Resolver struct {
	snap   *Snapshot
	reach  *Reachability
	policy Policy
	logger *slog.Logger
	hook   func(item string)

	mu       sync.Mutex
	memo     map[ItemID]*TreeNode
	visiting map[ItemID]struct{}
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for cycle diagnostics.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithExpandHook registers fn to be called each time the resolver expands
// a non-base item that is not yet memoized.
func WithExpandHook(fn func(item string)) ResolverOption {
	return func(r *Resolver) {
		r.hook = fn
	}
}

// NewResolver creates a resolver over s and its reachability analysis.
func NewResolver(s *Snapshot, reach *Reachability, policy Policy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		snap:     s,
		reach:    reach,
		policy:   policy,
		logger:   slog.Default(),
		memo:     make(map[ItemID]*TreeNode),
		visiting: make(map[ItemID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the path policy of the resolver.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the crafting tree for the named item.
//
// Outputs:
//
//	*TreeNode - nil when the item is unknown or has no resolvable path.
//	error - ErrInvariantViolation when a strict policy meets a cycle or
//	fails on a reachable item. Never returned for bad data.
func (r *Resolver) Resolve(name string) (*TreeNode, error) {
	id, ok := r.snap.Lookup(name)
	if !ok {
		recordResolve("unknown", r.policy)
		return nil, nil
	}
	return r.ResolveID(id)
}

// ResolveID is Resolve by ItemID.
func (r *Resolver) ResolveID(id ItemID) (*TreeNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, err := r.resolve(id)
	if err != nil {
		clear(r.visiting)
		recordResolve("error", r.policy)
		return nil, err
	}
	if node == nil {
		recordResolve("unresolvable", r.policy)
	} else {
		recordResolve("resolved", r.policy)
	}
	return node, nil
}

// Memoized returns the number of memo entries, resolved or not.
func (r *Resolver) Memoized() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.memo)
}

// resolve must be called with r.mu held.
func (r *Resolver) resolve(id ItemID) (*TreeNode, error) {
	if node, ok := r.memo[id]; ok {
		return node, nil
	}

	s := r.snap
	item := s.items[id]
	if item.IsBase {
		leaf := &TreeNode{Kind: NodeLeaf, ID: id, Name: item.Name, Glyph: item.Glyph}
		r.memo[id] = leaf
		return leaf, nil
	}

	if _, onPath := r.visiting[id]; onPath {
		if r.policy.strict() {
			return nil, fmt.Errorf("%w: resolution cycle at %q under %s", ErrInvariantViolation, item.Name, r.policy)
		}
		r.logger.Debug("crafting cycle, treating as unresolvable",
			slog.String("item", item.Name),
			slog.String("policy", r.policy.String()))
		return nil, nil
	}

	if r.hook != nil {
		r.hook(item.Name)
	}

	ri := r.policy.choose(s, r.reach, id)
	if ri < 0 {
		if r.policy.strict() && r.reach.IsReachable(id) {
			return nil, fmt.Errorf("%w: no level-decreasing recipe for reachable item %q", ErrInvariantViolation, item.Name)
		}
		r.memo[id] = nil
		return nil, nil
	}

	r.visiting[id] = struct{}{}
	defer delete(r.visiting, id)

	e := s.ends[ri]
	left, err := r.resolve(e.a)
	if err != nil {
		return nil, err
	}
	var right *TreeNode
	if left != nil {
		if right, err = r.resolve(e.b); err != nil {
			return nil, err
		}
	}
	if left == nil || right == nil {
		if r.policy.strict() {
			return nil, fmt.Errorf("%w: reachable item %q has unresolvable input", ErrInvariantViolation, item.Name)
		}
		r.memo[id] = nil
		return nil, nil
	}

	node := &TreeNode{
		Kind:   NodeInternal,
		ID:     id,
		Name:   item.Name,
		Glyph:  item.Glyph,
		Recipe: &s.recipes[ri],
		Left:   left,
		Right:  right,
	}
	r.memo[id] = node
	return node, nil
}
