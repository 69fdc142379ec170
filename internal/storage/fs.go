package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/checksum"
)

// ErrOutsideRoot is returned for document paths that leave the workspace.
var ErrOutsideRoot = fmt.Errorf("path outside workspace root: %w", apperr.ErrInvalid)

// FS implements Provider backed by the local file system.
type FS struct {
	root      string // absolute, cleaned
	include   []string
	exclude   []string
	gitignore *ignore.GitIgnore
}

var _ Provider = (*FS)(nil)

// NewFS opens the workspace directory root, which must exist.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	switch info, err := os.Stat(abs); {
	case err != nil:
		return nil, fmt.Errorf("storage: open workspace: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage: workspace %s is not a directory", abs)
	}

	f := &FS{root: abs, include: slices.Clone(DefaultInclude)}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Root returns the absolute workspace directory.
func (f *FS) Root() string { return f.root }

// resolve maps a document path to an absolute file name under the root.
func (f *FS) resolve(docPath string) (string, error) {
	if docPath == "" || docPath == "." {
		return f.root, nil
	}
	local := filepath.FromSlash(docPath)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("storage: %q: %w", docPath, ErrOutsideRoot)
	}
	return filepath.Join(f.root, local), nil
}

// Rel converts an absolute path under the root into a document path.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("storage: %s: %w", abs, ErrOutsideRoot)
	}
	return filepath.ToSlash(rel), nil
}

// List returns every document file under dir, sorted by path. Hidden and
// ignored directories are not entered and symlinks are not followed.
func (f *FS) List(dir string) ([]FileMeta, error) {
	start, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}

	var metas []FileMeta
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := f.Rel(p)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if f.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		case !d.Type().IsRegular(), !f.Match(rel):
			return nil
		}
		meta, err := f.stat(p, rel, d)
		if err != nil {
			return err
		}
		metas = append(metas, meta)
		return nil
	}
	if err := filepath.WalkDir(start, walk); err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	slices.SortFunc(metas, func(a, b FileMeta) int { return strings.Compare(a.Path, b.Path) })
	return metas, nil
}

func (f *FS) stat(abs, rel string, d fs.DirEntry) (FileMeta, error) {
	info, err := d.Info()
	if err != nil {
		return FileMeta{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{Path: rel, Checksum: checksum.Sum(data), UpdatedAt: info.ModTime()}, nil
}

// Read returns the bytes of a document. A missing file wraps
// apperr.ErrNotFound.
func (f *FS) Read(docPath string) ([]byte, error) {
	abs, err := f.resolve(docPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("storage: read %s: %w", docPath, apperr.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", docPath, err)
	}
	return data, nil
}

// Write replaces a document atomically, creating parent directories as
// needed. An existing file keeps its permissions.
func (f *FS) Write(docPath string, content []byte) error {
	abs, err := f.resolve(docPath)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: write %q: %w", docPath, apperr.ErrInvalid)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: write %s: %w", docPath, err)
	}
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		perm = info.Mode().Perm()
	}
	if err := writeAtomic(abs, content, perm); err != nil {
		return fmt.Errorf("storage: write %s: %w", docPath, err)
	}
	return nil
}
