// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package main is the entry point for the NFeProc daemon.
//
// NFeProc watches a directory for NFe fiscal invoice XML files, extracts a
// normalized header/line-item representation, persists it idempotently into
// SQLite keyed by the document access key, and archives each source file
// into a processed or error area.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env vars)
//  2. Logging: zerolog, JSON or console, optional rotating file sink
//  3. Directories: watched root and terminal areas created if missing
//  4. Database: SQLite store opened and schema applied
//  5. Watcher: kernel watches registered on the watched root
//  6. Supervision: suture tree runs the watcher and the pipeline; the
//     pipeline sweeps the backlog first, then consumes live events
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The live watch stops within
// one settle interval and any in-flight ingest finishes before exit, so no
// file is left between a store commit and its terminal move.
//
// # Example Usage
//
//	export WATCH_DIR=/data/inbox
//	export PROCESSED_DIR=/data/processed
//	export ERROR_DIR=/data/errors
//	export DATABASE_PATH=/data/nfeproc.db
//	./nfeproc
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fiscalforge/nfeproc/internal/config"
	"github.com/fiscalforge/nfeproc/internal/database"
	"github.com/fiscalforge/nfeproc/internal/logging"
	"github.com/fiscalforge/nfeproc/internal/pipeline"
	"github.com/fiscalforge/nfeproc/internal/router"
	"github.com/fiscalforge/nfeproc/internal/supervisor"
	"github.com/fiscalforge/nfeproc/internal/watcher"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		// Default logger; configured logging is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	}
	if cfg.Logging.File.Enabled {
		logCfg.File = &logging.FileSink{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File.Path), 0o750); err != nil {
			logging.Fatal().Err(err).Msg("Failed to create log directory")
		}
	}
	logging.Init(logCfg)

	logging.Info().
		Str("watch_dir", cfg.Processor.WatchDir).
		Str("processed_dir", cfg.Processor.ProcessedDir).
		Str("error_dir", cfg.Processor.ErrorDir).
		Str("database", cfg.Database.Path).
		Bool("recursive", cfg.Processor.Recursive).
		Msg("Starting NFe processor")

	for _, dir := range []string{cfg.Processor.WatchDir, cfg.Processor.ProcessedDir, cfg.Processor.ErrorDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logging.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}

	// Watches are registered here, before the pipeline's backlog sweep, so
	// no arrival window is unmonitored.
	w, err := watcher.New(cfg.Processor.WatchDir, cfg.Processor.Recursive, cfg.Processor.EventBuffer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to watch directory")
	}

	rt := router.New(cfg.Processor.ProcessedDir, cfg.Processor.ErrorDir)
	p := pipeline.New(cfg.Processor, db, rt, w)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddWatchService(w)
	tree.AddIngestService(p)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Watching for documents, send SIGINT or SIGTERM to stop")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree terminated")
	}

	if err := w.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close watcher")
	}
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close database")
	}

	logging.Info().Msg("NFe processor stopped")
}
