// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package watcher adapts fsnotify into a stream of document-arrival events
// for the ingestion pipeline.
//
// Directory registration happens in New, before the pipeline's backlog sweep
// runs, so files arriving during the sweep are already captured by the
// kernel watch and queued; no arrival window is left unmonitored. Serve only
// pumps events, which also makes the service safe to restart under
// supervision without re-registering watches.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fiscalforge/nfeproc/internal/logging"
)

// matchExt is the recognized document extension.
const matchExt = ".xml"

// Event is one observed document arrival. At is the observation time; the
// pipeline uses it to apply the settle delay per file rather than pausing
// globally.
type Event struct {
	Path string
	At   time.Time
}

// Watcher watches a directory root for created documents.
type Watcher struct {
	root      string
	recursive bool
	fs        *fsnotify.Watcher
	events    chan Event
}

// New creates a Watcher and registers the root (and, in recursive mode,
// every existing subdirectory) with the kernel immediately.
func New(root string, recursive bool, buffer int) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:      root,
		recursive: recursive,
		fs:        fs,
		events:    make(chan Event, buffer),
	}

	if err := w.register(root); err != nil {
		_ = fs.Close()
		return nil, err
	}

	return w, nil
}

// Events returns the arrival stream. The channel is never closed; consumers
// must also select on their context.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close releases the kernel watches. Call once, after the supervision tree
// has stopped.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Serve implements suture.Service. It forwards Create events for matching
// files, registers newly created subdirectories in recursive mode, and exits
// when the context is canceled.
func (w *Watcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fsEvent, ok := <-w.fs.Events:
			if !ok {
				return ctx.Err()
			}
			if !fsEvent.Has(fsnotify.Create) {
				continue
			}
			if err := w.handleCreate(ctx, fsEvent.Name); err != nil {
				return err
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return ctx.Err()
			}
			logging.Error().Err(err).Msg("Filesystem watch error")
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (w *Watcher) String() string {
	return "filesystem-watcher"
}

func (w *Watcher) handleCreate(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		// Created and removed before we could look at it.
		return nil
	}

	if info.IsDir() {
		if w.recursive {
			if err := w.register(path); err != nil {
				logging.Error().Err(err).Str("dir", path).Msg("Failed to watch new directory")
			}
			// Files may have landed in the directory before the watch
			// took effect; pick them up by scanning once.
			return w.emitExisting(ctx, path)
		}
		return nil
	}

	return w.emit(ctx, path, info)
}

// emit forwards one file arrival, filtering by extension and location.
func (w *Watcher) emit(ctx context.Context, path string, info os.FileInfo) error {
	if info.IsDir() || !strings.EqualFold(filepath.Ext(path), matchExt) {
		return nil
	}
	if !w.recursive && filepath.Dir(path) != w.root {
		return nil
	}

	logging.Debug().Str("path", path).Msg("Document created")

	select {
	case w.events <- Event{Path: path, At: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitExisting scans a newly watched directory for files that arrived before
// its watch was registered.
func (w *Watcher) emitExisting(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if w.recursive {
				if err := w.register(path); err == nil {
					if err := w.emitExisting(ctx, path); err != nil {
						return err
					}
				}
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := w.emit(ctx, path, info); err != nil {
			return err
		}
	}
	return nil
}

// register adds dir (and, in recursive mode, its subtree) to the watch set.
func (w *Watcher) register(dir string) error {
	if !w.recursive {
		return w.fs.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}
