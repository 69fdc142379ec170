// Package testutil provides shared test helpers for setting up workspaces and mirrors.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/specdex/internal/fulltext"
	"github.com/starford/specdex/internal/storage"
)

// TestMirror creates a temporary SQLite full-text mirror that is automatically cleaned up.
func TestMirror(t *testing.T) *fulltext.DB {
	t.Helper()
	db, err := fulltext.Open(filepath.Join(t.TempDir(), "specdex-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace creates a temporary workspace holding files (slash paths
// relative to the root) and a storage.FS over it.
func TestWorkspace(t *testing.T, files map[string]string, opts ...storage.Option) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(dir, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
