// Package document holds the parsed, immutable representation of one source
// file together with the spans needed to rewrite it byte for byte.
package document

import (
	"fmt"
	"strings"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/checksum"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/scanner"
)

// Warning is a non-fatal structural problem found while parsing.
type Warning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Document is one parsed source file. Text is never modified; edits produce
// new text that is parsed into a new Document.
type Document struct {
	ID          string           `json:"id"`
	Text        string           `json:"-"`
	Fingerprint string           `json:"fingerprint"`
	FastHash    uint64           `json:"-"`
	Generation  uint64           `json:"generation"`
	LineEnding  string           `json:"-"`
	Preface     models.Span      `json:"preface"`
	Elements    []models.Element `json:"elements"`
	Warnings    []Warning        `json:"warnings,omitempty"`
	Meta        map[string]any   `json:"meta,omitempty"`
}

// New returns a Document for text with its fingerprints and line ending set.
// Spans and elements are filled in by the parser.
func New(id, text string) *Document {
	return &Document{
		ID:          id,
		Text:        text,
		Fingerprint: checksum.SumString(text),
		FastHash:    checksum.Fast(text),
		LineEnding:  DetectLineEnding(text),
	}
}

// DetectLineEnding returns the terminator of the first line, "\n" by default.
func DetectLineEnding(text string) string {
	i := strings.IndexByte(text, '\n')
	if i > 0 && text[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// SameContent reports whether text is identical to the document's text.
func (d *Document) SameContent(text string) bool {
	if checksum.Fast(text) != d.FastHash {
		return false
	}
	return checksum.SumString(text) == d.Fingerprint
}

// Serialize reassembles the document from its spans. For every parsed
// document the result equals Text.
func (d *Document) Serialize() string {
	var b strings.Builder
	b.Grow(len(d.Text))
	b.WriteString(d.slice(d.Preface))
	for _, e := range d.Elements {
		b.WriteString(d.slice(e.Heading))
		b.WriteString(d.slice(e.BodySpan))
	}
	return b.String()
}

// Find returns the position of the first element with identifier id.
func (d *Document) Find(id models.Identifier) (int, bool) {
	for i, e := range d.Elements {
		if e.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Element returns the first element with identifier id.
func (d *Document) Element(id models.Identifier) (models.Element, bool) {
	i, ok := d.Find(id)
	if !ok {
		return models.Element{}, false
	}
	return d.Elements[i], true
}

// RawBody returns the exact bytes of element i's body span.
func (d *Document) RawBody(i int) string {
	return d.slice(d.Elements[i].BodySpan)
}

// LogicalBody strips the single line terminator that structurally ends a body.
func LogicalBody(raw string) string {
	if strings.HasSuffix(raw, "\r\n") {
		return raw[:len(raw)-2]
	}
	return strings.TrimSuffix(raw, "\n")
}

// ErrBodyChangesStructure is returned when a replacement body would add,
// hide or reorder element headings.
var ErrBodyChangesStructure = fmt.Errorf("%w: body changes element structure", apperr.ErrInvalid)

// ErrTrailingCR is returned for a replacement body ending in a bare carriage
// return, which would merge with the following terminator.
var ErrTrailingCR = fmt.Errorf("%w: body ends in a bare carriage return", apperr.ErrInvalid)

// SpliceBody returns new text in which only element i's body span is replaced
// by body. Every byte outside the span is preserved, except that a line
// terminator is added after a heading line that had none, and after a body
// ending in a newline at the end of a file without one. The receiver is
// never modified.
func (d *Document) SpliceBody(i int, body string) (string, error) {
	if i < 0 || i >= len(d.Elements) {
		return "", fmt.Errorf("document: element %d of %s: %w", i, d.ID, apperr.ErrNotFound)
	}
	e := d.Elements[i]
	if strings.HasSuffix(body, "\r") {
		return "", fmt.Errorf("document: %s in %s: %w", e.ID, d.ID, ErrTrailingCR)
	}

	var b strings.Builder
	b.Grow(len(d.Text) - e.BodySpan.Len() + len(body) + 2*len(d.LineEnding))
	b.WriteString(d.Text[:e.BodySpan.Start])
	if body != "" && !strings.HasSuffix(d.Text[:e.BodySpan.Start], "\n") {
		b.WriteString(d.LineEnding)
	}
	b.WriteString(body)
	// A terminator is needed before a following heading, to keep a trailing
	// newline of the file, and to protect a newline the body ends with.
	if body != "" && (i+1 < len(d.Elements) || strings.HasSuffix(d.Text, "\n") || strings.HasSuffix(body, "\n")) {
		b.WriteString(d.LineEnding)
	}
	b.WriteString(d.Text[e.BodySpan.End:])
	out := b.String()

	if err := d.checkStructure(i, out, len(out)-len(d.Text)); err != nil {
		return "", err
	}
	return out, nil
}

// checkStructure verifies that text still has the same element headings at
// the same offsets, shifted by delta after element i. The preface is
// unchanged by a splice and is skipped.
func (d *Document) checkStructure(i int, text string, delta int) error {
	var starts []int
	for _, l := range scanner.Headings(scanner.Scan(text)) {
		if l.Start < d.Preface.End {
			continue
		}
		if _, ok := StartsElement(l.Text); ok {
			starts = append(starts, l.Start)
		}
	}
	if len(starts) != len(d.Elements) {
		return fmt.Errorf("document: %s in %s: %w", d.Elements[i].ID, d.ID, ErrBodyChangesStructure)
	}
	for j, e := range d.Elements {
		want := e.Heading.Start
		if j > i {
			want += delta
		}
		if starts[j] != want {
			return fmt.Errorf("document: %s in %s: %w", d.Elements[i].ID, d.ID, ErrBodyChangesStructure)
		}
	}
	return nil
}

// StartsElement reports whether a heading's literal text opens an element:
// a recognised prefix immediately followed by a valid name.
func StartsElement(heading string) (models.Identifier, bool) {
	id, _, ok := models.ScanIdentifier(heading)
	return id, ok
}

func (d *Document) slice(s models.Span) string {
	return d.Text[s.Start:s.End]
}
