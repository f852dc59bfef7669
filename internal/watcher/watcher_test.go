// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 3 * time.Second

func startWatcher(t *testing.T, root string, recursive bool) *Watcher {
	t.Helper()
	w, err := New(root, recursive, 16)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, w.Close())
	})
	return w
}

func waitForEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for an arrival event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(wait):
	}
}

func TestWatcherEmitsDocumentCreation(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, true)

	path := filepath.Join(root, "nota.xml")
	before := time.Now()
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
	assert.False(t, ev.At.Before(before), "arrival time must be observation time")
}

func TestWatcherMatchesExtensionCaseInsensitively(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, true)

	path := filepath.Join(root, "NOTA.XML")
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, true)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.json"), []byte("{}"), 0o600))

	// The next event must be the matching file, with the others skipped.
	path := filepath.Join(root, "nota.xml")
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherRecursiveNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, true)

	// A directory created after startup gets watched, and files inside it
	// are reported whether they beat the new watch or not.
	sub := filepath.Join(root, "2020", "07")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	path := filepath.Join(sub, "nota.xml")
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherFlatModeIgnoresSubdirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, false)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "hidden.xml"), []byte("<doc/>"), 0o600))

	assertNoEvent(t, w, 300*time.Millisecond)

	// Root-level files still come through.
	path := filepath.Join(root, "nota.xml")
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherPreexistingSubtreeIsRegistered(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "already", "there")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	w := startWatcher(t, root, true)

	path := filepath.Join(sub, "nota.xml")
	require.NoError(t, os.WriteFile(path, []byte("<doc/>"), 0o600))

	ev := waitForEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "does-not-exist"), true, 16)
	require.Error(t, err)
}
