// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package database provides the SQLite persistence store for extracted NFe
// documents.
//
// The store enforces a single-writer discipline: the connection pool is
// capped at one connection and write transactions additionally serialize on
// a store-level mutex, so the pipeline may call UpsertDocument from any
// goroutine without coordinating externally.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fiscalforge/nfeproc/internal/config"
	"github.com/fiscalforge/nfeproc/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by read helpers when no row matches.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection and provides document access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// writeMu serializes write transactions (single-writer discipline).
	writeMu sync.Mutex
}

// New opens (creating if necessary) the SQLite database at cfg.Path and
// applies the schema. The connection is configured with WAL journaling, a
// busy timeout, foreign key enforcement, and a single-connection pool.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path, busyTimeout.Milliseconds())

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY instead of retrying around it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		closeWithLog(conn)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		closeWithLog(conn)
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Database initialized")

	return &DB{conn: conn, cfg: cfg}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// closeWithLog closes a connection during error cleanup, logging any
// secondary failure instead of masking the original error.
func closeWithLog(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close database connection")
	}
}
