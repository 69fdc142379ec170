package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/checksum"
)

func tempWorkspace(t *testing.T, opts ...Option) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir, opts...)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeFiles(t *testing.T, s *FS, files map[string]string) {
	t.Helper()
	for p, content := range files {
		if err := s.Write(p, []byte(content)); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}
}

func listPaths(t *testing.T, s *FS) []string {
	t.Helper()
	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var out []string
	for _, it := range items {
		out = append(out, it.Path)
	}
	return out
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte("# R:Hello\nWorld\n")
	if err := s.Write("design.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("design.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWritePreservesMode(t *testing.T) {
	s := tempWorkspace(t)
	abs := filepath.Join(s.Root(), "ro.md")
	if err := os.WriteFile(abs, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.md", []byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempWorkspace(t)
	_, err := s.Read("gone.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestList(t *testing.T) {
	s := tempWorkspace(t)
	writeFiles(t, s, map[string]string{
		"a.md":       "a",
		"sub/b.md":   "b",
		"readme.txt": "not md",
		".git/x.md":  "hidden",
	})

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Path != "a.md" || items[1].Path != "sub/b.md" {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[1].Checksum != checksum.Sum([]byte("b")) {
		t.Errorf("checksum = %s", items[1].Checksum)
	}
}

func TestListIncludeExclude(t *testing.T) {
	s := tempWorkspace(t,
		WithInclude("specs/**/*.md", "*.markdown"),
		WithExclude("specs/drafts/**"),
	)
	writeFiles(t, s, map[string]string{
		"top.md":               "x",
		"notes.markdown":       "x",
		"specs/api.md":         "x",
		"specs/v2/store.md":    "x",
		"specs/drafts/wip.md":  "x",
		"specs/v2/diagram.svg": "x",
	})

	got := listPaths(t, s)
	want := []string{"notes.markdown", "specs/api.md", "specs/v2/store.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
	if s.Match("specs/drafts/wip.md") {
		t.Error("excluded path matched")
	}
}

func TestListRespectsGitignore(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\nscratch.md\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewFS(dir, WithGitignore())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	writeFiles(t, s, map[string]string{
		"keep.md":       "x",
		"scratch.md":    "x",
		"build/out.md":  "x",
		"docs/found.md": "x",
	})

	got := listPaths(t, s)
	want := []string{"docs/found.md", "keep.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestGitignoreMissingIsFine(t *testing.T) {
	s := tempWorkspace(t, WithGitignore())
	if s.gitignore != nil {
		t.Error("gitignore compiled without a .gitignore file")
	}
}

func TestInvalidGlob(t *testing.T) {
	if _, err := NewFS(t.TempDir(), WithInclude("[")); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Read(%q) = %v, want ErrOutsideRoot", p, err)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestRel(t *testing.T) {
	s := tempWorkspace(t)
	got, err := s.Rel(filepath.Join(s.Root(), "a", "b.md"))
	if err != nil || got != "a/b.md" {
		t.Errorf("Rel = %q, %v", got, err)
	}
	if _, err := s.Rel(filepath.Dir(s.Root())); err == nil {
		t.Error("expected error for path outside root")
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".specdex-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/specdex-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "specdex-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestOutsideRootIsInvalid(t *testing.T) {
	s := tempWorkspace(t)
	_, err := s.Read("../x.md")
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if err := s.Write("", []byte("x")); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("writing the root: err = %v, want ErrInvalid", err)
	}
}

func TestListSkipsSymlinks(t *testing.T) {
	s := tempWorkspace(t)
	writeFiles(t, s, map[string]string{"real.md": "x"})
	if err := os.Symlink(filepath.Join(s.Root(), "real.md"), filepath.Join(s.Root(), "link.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if got := listPaths(t, s); !reflect.DeepEqual(got, []string{"real.md"}) {
		t.Errorf("List = %v", got)
	}
}
