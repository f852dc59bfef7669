// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct-tag constraints and semantic rules, then resolves
// all filesystem paths to absolute form. It mutates the receiver; call it
// once, during Load.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.resolvePaths(); err != nil {
		return err
	}

	// Terminal areas inside the watched root would re-trigger ingestion of
	// every file this process moves.
	if c.Processor.ProcessedDir == c.Processor.WatchDir {
		return fmt.Errorf("processed_dir must differ from watch_dir (%s)", c.Processor.WatchDir)
	}
	if c.Processor.ErrorDir == c.Processor.WatchDir {
		return fmt.Errorf("error_dir must differ from watch_dir (%s)", c.Processor.WatchDir)
	}
	if within(c.Processor.ProcessedDir, c.Processor.WatchDir) {
		return fmt.Errorf("processed_dir %s must not be inside watch_dir %s", c.Processor.ProcessedDir, c.Processor.WatchDir)
	}
	if within(c.Processor.ErrorDir, c.Processor.WatchDir) {
		return fmt.Errorf("error_dir %s must not be inside watch_dir %s", c.Processor.ErrorDir, c.Processor.WatchDir)
	}

	return nil
}

// resolvePaths converts every configured path to absolute form.
func (c *Config) resolvePaths() error {
	paths := []*string{
		&c.Processor.WatchDir,
		&c.Processor.ProcessedDir,
		&c.Processor.ErrorDir,
	}
	if c.Database.Path != ":memory:" {
		paths = append(paths, &c.Database.Path)
	}
	if c.Logging.File.Enabled {
		paths = append(paths, &c.Logging.File.Path)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("cannot resolve path %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// within reports whether path is strictly inside root. Both must be absolute.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && rel != "." && !filepath.IsAbs(rel) &&
		rel != "" && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
