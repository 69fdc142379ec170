package fulltext

import "github.com/starford/specdex/internal/document"

// Mirror is the body search store kept in step with the index.
// Consumers depend on this interface rather than *DB.
type Mirror interface {
	ReplaceDocument(doc *document.Document) error
	DeleteDocument(id string) error
	Fingerprints() (map[string]string, error)
	Search(query string, limit int) ([]Hit, error)
	Close() error
}

// Verify *DB satisfies Mirror at compile time.
var _ Mirror = (*DB)(nil)
