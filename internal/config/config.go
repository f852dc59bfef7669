// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package config provides layered configuration for the NFe ingestion daemon.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every setting
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
//
// All filesystem paths are resolved to absolute form during Load, so
// consumers downstream (watcher, router, store) never see relative paths.
//
// Thread Safety: Config is immutable after Load() and safe for concurrent
// read access from multiple goroutines.
package config

import "time"

// Config holds all application configuration loaded from defaults, the
// optional config file, and environment variables.
type Config struct {
	Processor ProcessorConfig `koanf:"processor"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ProcessorConfig holds the ingestion pipeline settings: the watched root,
// the two terminal areas, and the live-watch behavior.
//
// Environment Variables:
//   - WATCH_DIR: directory watched for incoming .xml files
//   - PROCESSED_DIR: terminal area for successfully ingested files
//   - ERROR_DIR: terminal area for rejected files
//   - RECURSIVE_SCAN: include subdirectories in sweep and watch (default: true)
//   - SETTLE_DELAY: wait before reading a newly created file (default: 1s)
type ProcessorConfig struct {
	// WatchDir is the root directory watched for incoming documents.
	WatchDir string `koanf:"watch_dir" validate:"required"`

	// ProcessedDir receives files whose ingestion committed.
	ProcessedDir string `koanf:"processed_dir" validate:"required"`

	// ErrorDir receives files whose ingestion failed at any stage.
	ErrorDir string `koanf:"error_dir" validate:"required"`

	// Recursive enables sweep and watch of subdirectories under WatchDir.
	Recursive bool `koanf:"recursive"`

	// SettleDelay is the per-file wait between a creation event and the
	// first read, guarding against reading a file mid-write.
	SettleDelay time.Duration `koanf:"settle_delay" validate:"min=0"`

	// EventBuffer is the capacity of the live-event queue. Events arriving
	// during the backlog sweep are held here until the sweep completes.
	EventBuffer int `koanf:"event_buffer" validate:"min=1"`
}

// DatabaseConfig holds SQLite store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path" validate:"required"`

	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"min=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`

	// File configures the optional rotating file sink.
	File FileLogConfig `koanf:"file"`
}

// FileLogConfig configures the rotating log file written alongside stderr.
type FileLogConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=1"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
	Compress   bool   `koanf:"compress"`
}
