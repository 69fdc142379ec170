// Package patch rewrites one element's body inside its document text and
// reports a line diff. It never persists anything.
package patch

import (
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/checksum"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/models"
)

// Source reads the current stored content of a document.
type Source interface {
	Read(docID string) ([]byte, error)
}

// Result is the outcome of a body replacement.
type Result struct {
	Document    string            `json:"document"`
	Identifier  models.Identifier `json:"identifier"`
	Fingerprint string            `json:"fingerprint"`
	UpdatedText string            `json:"updated_text"`
	Diff        string            `json:"diff"`
}

// Writer produces body replacements checked against stored content.
type Writer struct {
	source Source
}

// NewWriter returns a Writer. A nil source skips the stored-content check.
func NewWriter(source Source) *Writer {
	return &Writer{source: source}
}

// ReplaceBody replaces the body of the first element with identifier id in
// doc. It fails with apperr.ErrConflict when the stored content no longer
// matches doc's fingerprint. doc is not modified.
func (w *Writer) ReplaceBody(doc *document.Document, id models.Identifier, body string) (Result, error) {
	i, ok := doc.Find(id)
	if !ok {
		return Result{}, fmt.Errorf("patch: element %s in %s: %w", id, doc.ID, apperr.ErrNotFound)
	}
	if err := w.checkFresh(doc); err != nil {
		return Result{}, err
	}

	updated, err := doc.SpliceBody(i, body)
	if err != nil {
		return Result{}, fmt.Errorf("patch: %w", err)
	}
	diff, err := Diff(doc.ID, doc.Text, updated)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Document:    doc.ID,
		Identifier:  id,
		Fingerprint: checksum.SumString(updated),
		UpdatedText: updated,
		Diff:        diff,
	}, nil
}

func (w *Writer) checkFresh(doc *document.Document) error {
	if w.source == nil {
		return nil
	}
	data, err := w.source.Read(doc.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("patch: %s was removed from storage: %w", doc.ID, apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("patch: read %s: %w", doc.ID, err)
	}
	if stored := checksum.Sum(data); stored != doc.Fingerprint {
		return fmt.Errorf("patch: %s changed on disk since it was parsed: %w", doc.ID, apperr.ErrConflict)
	}
	return nil
}

// Diff returns a unified line diff of before and after.
func Diff(name, before, after string) (string, error) {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("patch: diff %s: %w", name, err)
	}
	return out, nil
}
