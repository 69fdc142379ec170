package index

import (
	"maps"
	"slices"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/models"
)

// Source is one document handed to Rebuild. A source with a non-nil Err
// failed to load; its last good Document, if any, is kept and flagged.
type Source struct {
	ID  string
	Doc *document.Document
	Err error
}

// Report summarises a Rebuild. Duplicates holds one error per identifier
// defined more than once.
type Report struct {
	Generation uint64         `json:"generation"`
	Documents  int            `json:"documents"`
	Elements   int            `json:"elements"`
	Failed     []string       `json:"failed,omitempty"`
	Duplicates []apperr.Issue `json:"duplicates,omitempty"`
}

// Delta describes the effect of one incremental update.
type Delta struct {
	Generation       uint64              `json:"generation"`
	Document         string              `json:"document"`
	Added            []models.Identifier `json:"added,omitempty"`
	Removed          []models.Identifier `json:"removed,omitempty"`
	ChangedBacklinks []models.Identifier `json:"changed_backlinks,omitempty"`
}

// Rebuild replaces the whole index with the given sources. Documents absent
// from sources are dropped.
func (ix *Index) Rebuild(sources []Source) Report {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev := ix.load()
	docs := make(map[string]*document.Document, len(sources))
	failures := make(map[string]string)
	var failed []string
	for _, src := range sources {
		if src.Err != nil {
			failures[src.ID] = src.Err.Error()
			failed = append(failed, src.ID)
			if last, ok := prev.docs[src.ID]; ok {
				docs[src.ID] = last
			}
			continue
		}
		if src.Doc != nil {
			docs[src.ID] = src.Doc
		}
	}

	next := build(docs, failures, prev.generation+1)
	ix.snap.Store(next)
	slices.Sort(failed)
	return Report{
		Generation: next.generation,
		Documents:  len(next.docs),
		Elements:   len(next.elements),
		Failed:     failed,
		Duplicates: next.duplicateIssues(),
	}
}

// ApplyIncremental replaces the elements of one document, or removes the
// document when doc is nil, and recomputes the reference graph. A previous
// failure flag on the document is cleared.
func (ix *Index) ApplyIncremental(docID string, doc *document.Document) Delta {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev := ix.load()
	docs := maps.Clone(prev.docs)
	failures := maps.Clone(prev.failures)
	delete(failures, docID)
	if doc == nil {
		delete(docs, docID)
	} else {
		docs[docID] = doc
	}

	next := build(docs, failures, prev.generation+1)
	ix.snap.Store(next)

	delta := Delta{Generation: next.generation, Document: docID}
	before := elementIDs(prev.docs[docID])
	after := elementIDs(docs[docID])
	for id := range after {
		if _, ok := before[id]; !ok {
			delta.Added = append(delta.Added, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}
	slices.SortFunc(delta.Added, compareIDs)
	slices.SortFunc(delta.Removed, compareIDs)
	delta.ChangedBacklinks = changedBacklinks(prev, next)
	return delta
}

// MarkFailed flags docID as failed while keeping its last good Document.
func (ix *Index) MarkFailed(docID string, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev := ix.load()
	failures := maps.Clone(prev.failures)
	failures[docID] = err.Error()
	ix.snap.Store(build(prev.docs, failures, prev.generation+1))
}

// Failures returns the failure message of every flagged document.
func (ix *Index) Failures() map[string]string {
	return maps.Clone(ix.load().failures)
}

func elementIDs(d *document.Document) map[models.Identifier]struct{} {
	out := make(map[models.Identifier]struct{})
	if d == nil {
		return out
	}
	for _, e := range d.Elements {
		out[e.ID] = struct{}{}
	}
	return out
}

// changedBacklinks returns, sorted, every identifier whose backlink set
// differs between a and b.
func changedBacklinks(a, b *snapshot) []models.Identifier {
	var out []models.Identifier
	for id, links := range a.reverse {
		if !slices.Equal(links, b.reverse[id]) {
			out = append(out, id)
		}
	}
	for id := range b.reverse {
		if _, ok := a.reverse[id]; !ok {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, compareIDs)
	return out
}
