// Package index aggregates parsed documents into a queryable, project-wide
// element index with a bidirectional reference graph.
//
// State lives in an immutable snapshot swapped atomically on every write, so
// readers never observe a partially applied rebuild. Writers are serialised.
package index

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/models"
)

// ElementIndex is the read contract consumed by the HTTP and MCP surfaces.
type ElementIndex interface {
	Lookup(id models.Identifier) (models.Element, error)
	LookupAll(id models.Identifier) []models.Element
	List(f Filter) []models.Element
	ReferencesOf(id models.Identifier) ([]models.Identifier, error)
	BacklinksOf(id models.Identifier) []models.Identifier
	Search(query string, limit int) []Match
	Validate() []apperr.Issue
	Stats() Stats
}

// Verify *Index satisfies ElementIndex at compile time.
var _ ElementIndex = (*Index)(nil)

// Filter restricts List. Empty fields do not restrict.
type Filter struct {
	Document string
	Kind     models.Kind
}

// Index is the in-memory element index of one open project.
type Index struct {
	mu        sync.Mutex // serialises writers
	snap      atomic.Pointer[snapshot]
	fuzzy     bool
	threshold float32
}

// Option configures an Index.
type Option func(*Index)

// WithFuzzy enables the fuzzy title tier of Search for similarities at or
// above threshold (0..1, Jaro-Winkler).
func WithFuzzy(threshold float32) Option {
	return func(ix *Index) {
		ix.fuzzy = true
		ix.threshold = threshold
	}
}

// New returns an empty Index.
func New(opts ...Option) *Index {
	ix := &Index{}
	for _, opt := range opts {
		opt(ix)
	}
	ix.snap.Store(build(nil, nil, 0))
	return ix
}

// snapshot is one immutable, fully derived index state.
type snapshot struct {
	generation uint64
	docs       map[string]*document.Document
	order      []string          // document ids, sorted
	failures   map[string]string // document id -> failure message
	elements   []models.Element  // canonical order: document id, then position
	byID       map[models.Identifier][]int
	forward    map[models.Identifier][]models.Identifier
	reverse    map[models.Identifier][]models.Identifier
}

// build derives a snapshot from docs. Forward edges are merged across
// duplicate definitions in canonical order; reverse edges are always
// recomputed from forward edges and are keyed by target whether or not the
// target resolves.
func build(docs map[string]*document.Document, failures map[string]string, gen uint64) *snapshot {
	s := &snapshot{
		generation: gen,
		docs:       make(map[string]*document.Document, len(docs)),
		failures:   make(map[string]string, len(failures)),
		byID:       make(map[models.Identifier][]int),
		forward:    make(map[models.Identifier][]models.Identifier),
		reverse:    make(map[models.Identifier][]models.Identifier),
	}
	for id, d := range docs {
		s.docs[id] = d
		s.order = append(s.order, id)
	}
	for id, msg := range failures {
		s.failures[id] = msg
	}
	sort.Strings(s.order)

	seen := make(map[models.Identifier]map[models.Identifier]struct{})
	for _, docID := range s.order {
		for _, e := range s.docs[docID].Elements {
			s.byID[e.ID] = append(s.byID[e.ID], len(s.elements))
			s.elements = append(s.elements, e)

			set, ok := seen[e.ID]
			if !ok {
				set = make(map[models.Identifier]struct{})
				seen[e.ID] = set
			}
			for _, ref := range e.References {
				if _, dup := set[ref]; dup {
					continue
				}
				set[ref] = struct{}{}
				s.forward[e.ID] = append(s.forward[e.ID], ref)
			}
		}
	}

	for src, targets := range s.forward {
		for _, t := range targets {
			s.reverse[t] = append(s.reverse[t], src)
		}
	}
	for t := range s.reverse {
		slices.SortFunc(s.reverse[t], compareIDs)
	}
	return s
}

func compareIDs(a, b models.Identifier) int {
	return cmp.Compare(a.String(), b.String())
}

func (ix *Index) load() *snapshot { return ix.snap.Load() }

// Generation returns the number of writes applied so far.
func (ix *Index) Generation() uint64 { return ix.load().generation }

// Lookup returns the element with identifier id. With duplicates, the first
// occurrence in canonical order is returned.
func (ix *Index) Lookup(id models.Identifier) (models.Element, error) {
	s := ix.load()
	pos, ok := s.byID[id]
	if !ok {
		return models.Element{}, fmt.Errorf("index: element %s: %w", id, apperr.ErrNotFound)
	}
	return s.elements[pos[0]], nil
}

// LookupAll returns every element defined with identifier id.
func (ix *Index) LookupAll(id models.Identifier) []models.Element {
	s := ix.load()
	out := make([]models.Element, 0, len(s.byID[id]))
	for _, p := range s.byID[id] {
		out = append(out, s.elements[p])
	}
	return out
}

// List returns the elements matching f in canonical order.
func (ix *Index) List(f Filter) []models.Element {
	s := ix.load()
	var out []models.Element
	for _, e := range s.elements {
		if f.Document != "" && e.Document != f.Document {
			continue
		}
		if f.Kind != "" && e.ID.Kind != f.Kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ReferencesOf returns the outgoing references of id, including unresolved
// ones, in order of first mention.
func (ix *Index) ReferencesOf(id models.Identifier) ([]models.Identifier, error) {
	s := ix.load()
	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("index: element %s: %w", id, apperr.ErrNotFound)
	}
	return slices.Clone(s.forward[id]), nil
}

// BacklinksOf returns, sorted, the identifiers of elements whose bodies
// reference id. id need not resolve.
func (ix *Index) BacklinksOf(id models.Identifier) []models.Identifier {
	return slices.Clone(ix.load().reverse[id])
}

// Resolves reports whether id names at least one indexed element.
func (ix *Index) Resolves(id models.Identifier) bool {
	_, ok := ix.load().byID[id]
	return ok
}

// Document returns the current Document for docID.
func (ix *Index) Document(docID string) (*document.Document, bool) {
	d, ok := ix.load().docs[docID]
	return d, ok
}

// Documents returns the ids of all indexed documents, sorted.
func (ix *Index) Documents() []string {
	return slices.Clone(ix.load().order)
}

// Locate returns the document holding the first definition of id and the
// element's position within it.
func (ix *Index) Locate(id models.Identifier) (*document.Document, int, error) {
	e, err := ix.Lookup(id)
	if err != nil {
		return nil, -1, err
	}
	d, ok := ix.Document(e.Document)
	if !ok {
		return nil, -1, fmt.Errorf("index: document %s: %w", e.Document, apperr.ErrNotFound)
	}
	i, ok := d.Find(id)
	if !ok {
		return nil, -1, fmt.Errorf("index: element %s in %s: %w", id, e.Document, apperr.ErrNotFound)
	}
	return d, i, nil
}
