// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the analysis cache for the recipe graph.
//
// GraphCache owns at most one Entry: a snapshot with its reachability
// result and the lazily filled resolvers and reports derived from it. The
// entry is built single-flight on first use, replaced when its TTL lapses,
// and dropped on invalidation. A failed build is never installed.
package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrBuildFailed is the sentinel matched by every BuildError.
var ErrBuildFailed = errors.New("snapshot build failed")

// BuildError describes a failed rebuild.
type BuildError struct {
	// Err is the underlying cause.
	Err error

	// Stage is "load" for repository/snapshot errors and "verify" for
	// invariant checks.
	Stage string

	// FailedAt is when the build gave up.
	FailedAt time.Time
}

// Error implements error.
func (e *BuildError) Error() string {
	return fmt.Sprintf("snapshot build failed at %s stage: %v", e.Stage, e.Err)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *BuildError) Unwrap() error { return e.Err }

// Is matches ErrBuildFailed.
func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }
