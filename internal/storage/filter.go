package storage

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultInclude selects Markdown files anywhere in the workspace.
var DefaultInclude = []string{"**/*.md"}

// Option configures an FS provider.
type Option func(*FS) error

// WithInclude replaces the include globs (doublestar syntax).
func WithInclude(patterns ...string) Option {
	return func(f *FS) error {
		if err := validatePatterns(patterns); err != nil {
			return err
		}
		f.include = patterns
		return nil
	}
}

// WithExclude sets globs for files that are never documents.
func WithExclude(patterns ...string) Option {
	return func(f *FS) error {
		if err := validatePatterns(patterns); err != nil {
			return err
		}
		f.exclude = patterns
		return nil
	}
}

// WithGitignore honours the workspace root .gitignore, if present.
func WithGitignore() Option {
	return func(f *FS) error {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(f.root, ".gitignore"))
		if err != nil {
			// No .gitignore: nothing to honour.
			return nil
		}
		f.gitignore = gi
		return nil
	}
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("storage: invalid glob %q", p)
		}
	}
	return nil
}

// Match reports whether rel (slash or OS separated) is a document file.
func (f *FS) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.ignored(rel) {
		return false
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ignored reports whether rel is excluded by a glob or .gitignore.
func (f *FS) ignored(rel string) bool {
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return f.gitignore != nil && f.gitignore.MatchesPath(rel)
}

// skipDir reports whether the walk should not descend into rel.
func (f *FS) skipDir(rel string) bool {
	if rel == "." {
		return false
	}
	if name := path.Base(rel); name[0] == '.' {
		return true
	}
	return f.ignored(rel) || f.ignored(rel+"/")
}
