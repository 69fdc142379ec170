// Package storage defines the workspace file-system abstraction.
package storage

import "time"

// FileMeta describes one document file in the workspace.
type FileMeta struct {
	Path      string    `json:"path"` // slash-separated, relative to the workspace root
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for workspace file operations.
type Provider interface {
	// List returns metadata for every document file under dir (relative to root).
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Match reports whether path (relative to root) is a document file.
	Match(path string) bool
	// Root returns the absolute workspace directory.
	Root() string
}
