// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package router performs collision-safe terminal placement of source files
// into the processed and error areas.
//
// Placement is atomic from the perspective of any concurrent reader of the
// destination: same-volume moves are a single rename, and cross-volume moves
// are staged through a hidden temp file in the destination directory before
// the final rename. A partially written file is never observable at the
// destination path.
package router

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// maxCollisionAttempts bounds the search for a free disambiguated name.
const maxCollisionAttempts = 1000

// Router computes destination paths and moves files into terminal areas.
type Router struct {
	processedDir string
	errorDir     string
}

// New creates a Router for the given terminal areas. Both directories must
// already exist (the pipeline creates them at startup).
func New(processedDir, errorDir string) *Router {
	return &Router{processedDir: processedDir, errorDir: errorDir}
}

// PlaceInProcessed moves the file into the processed area and returns the
// destination path.
func (r *Router) PlaceInProcessed(path string) (string, error) {
	return r.place(path, r.processedDir)
}

// PlaceInError moves the file into the error area and returns the
// destination path.
func (r *Router) PlaceInError(path string) (string, error) {
	return r.place(path, r.errorDir)
}

func (r *Router) place(path, destDir string) (string, error) {
	dest, err := uniqueDestination(destDir, filepath.Base(path))
	if err != nil {
		return "", err
	}
	if err := move(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// uniqueDestination returns destDir/name, or on collision the first free
// zero-padded disambiguated variant: name_001.xml, name_002.xml, ...
func uniqueDestination(destDir, name string) (string, error) {
	dest := filepath.Join(destDir, name)
	if !exists(dest) {
		return dest, nil
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for n := 1; n <= maxCollisionAttempts; n++ {
		candidate := filepath.Join(destDir, fmt.Sprintf("%s_%03d%s", stem, n, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s after %d attempts", name, destDir, maxCollisionAttempts)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// move renames src to dest. When src and dest are on different volumes the
// rename fails with EXDEV; in that case the file is copied to a temp file in
// the destination directory and renamed into place, then the source is
// removed.
func move(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}

	if err := copyAcrossVolumes(src, dest); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove source %s after copy: %w", src, err)
	}
	return nil
}

func copyAcrossVolumes(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".nfeproc-*")
	if err != nil {
		return fmt.Errorf("failed to stage copy for %s: %w", dest, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}
	return nil
}
