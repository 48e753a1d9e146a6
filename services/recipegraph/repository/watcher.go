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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeOp is the kind of data file change.
type ChangeOp int

const (
	// ChangeWrite indicates the file was created or modified.
	ChangeWrite ChangeOp = iota

	// ChangeRemove indicates the file was removed or renamed away.
	ChangeRemove
)

// String returns the op name.
func (op ChangeOp) String() string {
	switch op {
	case ChangeWrite:
		return "write"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// FileChange is one debounced change notification.
type FileChange struct {
	// Path is the watched data file.
	Path string

	// Op is the last operation seen in the debounce window.
	Op ChangeOp

	// Events is how many raw events were collapsed.
	Events int

	// Time is when the window closed.
	Time time.Time
}

// ChangeHandler is called once per debounce window.
type ChangeHandler func(ctx context.Context, change FileChange)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for more events before notifying.
	// Default: 200ms
	Debounce time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{Debounce: 200 * time.Millisecond}
}

// Watcher notifies when a single data file changes.
//
// Description:
//
//	Watches the file's directory rather than the file, so editors that
//	save by rename-over are seen. Events for other files in the directory
//	are ignored. Bursts within the debounce window collapse into one
//	handler call.
//
// Thread Safety: Start and Stop are safe for concurrent use. The handler
// runs on the watcher goroutine; calls never overlap.
type Watcher struct {
	path     string
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for path. Call Start to begin.
func NewWatcher(path string, handler ChangeHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatcherOptions().Debounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving watch path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		handler:  handler,
		debounce: opts.Debounce,
		logger:   logger.With(slog.String("component", "data_watcher"), slog.String("path", abs)),
		watcher:  fw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered; events
// are processed until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	go w.loop(ctx)
	w.logger.Info("watching data file")
	return nil
}

// Stop stops watching and waits for the event loop to exit if it was
// started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		started := w.watching
		w.watching = false
		w.mu.Unlock()

		if started {
			<-w.stopped
		}
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	var (
		pending *FileChange
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	flush := func() {
		if pending != nil && w.handler != nil {
			pending.Time = time.Now()
			w.handler(ctx, *pending)
		}
		pending = nil
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			op := convertOp(event.Op)
			if op < 0 {
				continue
			}
			if pending == nil {
				pending = &FileChange{Path: w.path}
			}
			pending.Op = op
			pending.Events++

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// convertOp maps fsnotify ops. Chmod-only events return -1.
func convertOp(op fsnotify.Op) ChangeOp {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return ChangeWrite
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ChangeRemove
	default:
		return -1
	}
}
