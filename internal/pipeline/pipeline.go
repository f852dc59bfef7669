// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package pipeline orchestrates document ingestion: the one-time backlog
// sweep, live event consumption, and the per-document
// read -> parse -> extract -> persist -> route sequence.
//
// Ordering: the watcher registers its kernel watches before the pipeline
// starts, the sweep runs to completion first, and only then are live events
// consumed. A file swept and moved away while its creation event sat in the
// queue fails the post-settle existence check and is skipped silently; that
// check is both the mid-write guard and the sweep/live deduplication.
//
// Error policy: any stage failure logs the relative path and routes the file
// to the error area. A failure of the error-area move itself is logged and
// the file is left where it is; that is the only case where a file stays
// unresolved, chosen over silently losing it.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fiscalforge/nfeproc/internal/config"
	"github.com/fiscalforge/nfeproc/internal/database"
	"github.com/fiscalforge/nfeproc/internal/extract"
	"github.com/fiscalforge/nfeproc/internal/logging"
	"github.com/fiscalforge/nfeproc/internal/router"
	"github.com/fiscalforge/nfeproc/internal/watcher"
	"github.com/fiscalforge/nfeproc/internal/xmltree"
)

// matchExt is the recognized document extension.
const matchExt = ".xml"

// Pipeline drives documents from the watched root into the store and the
// terminal areas.
type Pipeline struct {
	cfg    config.ProcessorConfig
	store  *database.DB
	router *router.Router
	watch  *watcher.Watcher
}

// New creates a Pipeline. The watcher must already be registered on the
// watched root so that arrivals during the backlog sweep are captured.
func New(cfg config.ProcessorConfig, store *database.DB, rt *router.Router, w *watcher.Watcher) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, router: rt, watch: w}
}

// Serve implements suture.Service: it runs the backlog sweep, then consumes
// live events until the context is canceled. An in-flight ingest always runs
// to completion; cancellation is observed between documents and during the
// settle wait.
func (p *Pipeline) Serve(ctx context.Context) error {
	if err := p.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.watch.Events():
			if err := p.consume(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (p *Pipeline) String() string {
	return "ingestion-pipeline"
}

// consume applies the settle delay to one live event, then ingests the file
// if it still exists.
func (p *Pipeline) consume(ctx context.Context, ev watcher.Event) error {
	// Settle relative to the arrival time, so queued events that already
	// waited are not delayed again.
	if wait := time.Until(ev.At.Add(p.cfg.SettleDelay)); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, err := os.Stat(ev.Path); err != nil {
		// Swept already, or consumed by another process.
		logging.Debug().Str("path", ev.Path).Msg("Document vanished before ingestion")
		return nil
	}

	logging.Info().Str("path", p.relPath(ev.Path)).Msg("New document detected")
	p.Ingest(ctx, ev.Path)
	return nil
}

// sweep enumerates all matching files currently under the watched root and
// ingests each one sequentially, before any live event is consumed.
func (p *Pipeline) sweep(ctx context.Context) error {
	logging.Info().
		Str("root", p.cfg.WatchDir).
		Bool("recursive", p.cfg.Recursive).
		Msg("Processing existing documents")

	paths, err := p.enumerate()
	if err != nil {
		return err
	}

	processed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Info().Str("path", p.relPath(path)).Msg("Processing existing document")
		p.Ingest(ctx, path)
		processed++
	}

	logging.Info().Int("count", processed).Msg("Backlog sweep complete")
	return nil
}

// enumerate lists matching files under the watched root, recursively or
// flatly per configuration, in deterministic filesystem order.
func (p *Pipeline) enumerate() ([]string, error) {
	var paths []string

	if !p.cfg.Recursive {
		entries, err := os.ReadDir(p.cfg.WatchDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && matchesExt(entry.Name()) {
				paths = append(paths, filepath.Join(p.cfg.WatchDir, entry.Name()))
			}
		}
		return paths, nil
	}

	err := filepath.WalkDir(p.cfg.WatchDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && matchesExt(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// Ingest processes one candidate document. The file always ends in exactly
// one terminal location, except when even the error-area move fails, in
// which case it is left in place and the pipeline continues.
func (p *Pipeline) Ingest(ctx context.Context, path string) Outcome {
	// A stop signal must not abort a document mid-flight: cancellation is
	// observed between documents and during the settle wait, never inside
	// the stage sequence, so a valid file is never misrouted on shutdown.
	ctx = context.WithoutCancel(ctx)

	rel := p.relPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return p.reject(path, rel, StageRead, err)
	}

	tree, err := xmltree.Parse(data)
	if err != nil {
		return p.reject(path, rel, StageParse, err)
	}

	header, items, err := extract.Extract(tree)
	if err != nil {
		return p.reject(path, rel, StageExtract, err)
	}
	header.SourceFile = filepath.Base(path)
	header.OriginalPath = rel

	if err := p.store.UpsertDocument(ctx, header, items); err != nil {
		return p.reject(path, rel, StagePersist, err)
	}

	dest, err := p.router.PlaceInProcessed(path)
	if err != nil {
		// The document is committed; the file still must leave the
		// watched root, so it goes to the error area for inspection.
		return p.reject(path, rel, StageRoute, err)
	}

	logging.Info().
		Str("path", rel).
		Str("access_key", header.AccessKey).
		Int("items", len(items)).
		Msg("Document processed")

	return Outcome{Committed: true, Destination: dest}
}

// reject logs a stage failure and routes the file to the error area.
func (p *Pipeline) reject(path, rel string, stage Stage, cause error) Outcome {
	logging.Error().
		Err(cause).
		Str("path", rel).
		Str("stage", string(stage)).
		Msg("Document rejected")

	dest, routeErr := p.router.PlaceInError(path)
	if routeErr != nil {
		logging.Error().
			Err(routeErr).
			Str("path", rel).
			Msg("Failed to move document to error area, file left in place")
		return Outcome{Stage: stage, Err: cause}
	}

	logging.Info().Str("path", rel).Str("dest", dest).Msg("Document moved to error area")
	return Outcome{Stage: stage, Err: cause, Destination: dest}
}

// relPath returns path relative to the watched root for logging, falling
// back to the base name for paths outside it.
func (p *Pipeline) relPath(path string) string {
	rel, err := filepath.Rel(p.cfg.WatchDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return rel
}

func matchesExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), matchExt)
}
