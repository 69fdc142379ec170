package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/models"
)

// Validate lists every problem in the current snapshot: documents that
// failed to load, duplicate identifiers (one issue per colliding name),
// unresolved references (one per source and target) and structural parse
// warnings.
func (ix *Index) Validate() []apperr.Issue {
	s := ix.load()
	var out []apperr.Issue

	failed := make([]string, 0, len(s.failures))
	for id := range s.failures {
		failed = append(failed, id)
	}
	slices.Sort(failed)
	for _, id := range failed {
		out = append(out, apperr.Issue{
			Kind:     apperr.KindRebuildFailure,
			Severity: apperr.SeverityError,
			Document: id,
			Message:  fmt.Sprintf("document %s failed to load, keeping last good version: %s", id, s.failures[id]),
		})
	}

	out = append(out, s.duplicateIssues()...)

	seen := make(map[[2]models.Identifier]struct{})
	for _, e := range s.elements {
		for _, ref := range e.References {
			if _, ok := s.byID[ref]; ok {
				continue
			}
			key := [2]models.Identifier{e.ID, ref}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, apperr.Issue{
				Kind:       apperr.KindUnresolved,
				Severity:   apperr.SeverityWarning,
				Identifier: e.ID.String(),
				Document:   e.Document,
				Line:       e.Heading.StartLine + 1,
				Message:    fmt.Sprintf("%s references %s, which is not defined", e.ID, ref),
			})
		}
	}

	for _, docID := range s.order {
		for _, w := range s.docs[docID].Warnings {
			out = append(out, apperr.Issue{
				Kind:     apperr.KindStructuralWarning,
				Severity: apperr.SeverityWarning,
				Document: docID,
				Line:     w.Line,
				Message:  w.Message,
			})
		}
	}
	return out
}

// Stats summarises the current snapshot.
type Stats struct {
	Generation   uint64              `json:"generation"`
	Documents    int                 `json:"documents"`
	Elements     int                 `json:"elements"`
	ByKind       map[models.Kind]int `json:"by_kind"`
	ByDocument   map[string]int      `json:"by_document"`
	References   int                 `json:"references"`
	Backlinks    int                 `json:"backlinks"`
	Unresolved   int                 `json:"unresolved"`
	WithoutRefs  int                 `json:"without_references"`
	Failed       int                 `json:"failed"`
	Duplicates   int                 `json:"duplicates"`
	PrivilegedOn int                 `json:"privileged"`
}

// Stats returns counts over the current snapshot.
func (ix *Index) Stats() Stats {
	s := ix.load()
	st := Stats{
		Generation: s.generation,
		Documents:  len(s.docs),
		Elements:   len(s.elements),
		ByKind:     make(map[models.Kind]int),
		ByDocument: make(map[string]int),
		Failed:     len(s.failures),
	}
	for _, e := range s.elements {
		st.ByKind[e.ID.Kind]++
		st.ByDocument[e.Document]++
		if len(e.References) == 0 {
			st.WithoutRefs++
		}
		if e.RequiresPrivilegedVerification() {
			st.PrivilegedOn++
		}
	}
	for _, targets := range s.forward {
		st.References += len(targets)
		for _, t := range targets {
			if _, ok := s.byID[t]; !ok {
				st.Unresolved++
			}
		}
	}
	for t, sources := range s.reverse {
		if _, ok := s.byID[t]; ok {
			st.Backlinks += len(sources)
		}
	}
	for _, pos := range s.byID {
		if len(pos) > 1 {
			st.Duplicates++
		}
	}
	return st
}

// Cycles returns the circular reference chains among resolved elements.
// Each chain starts and ends with the same identifier. Traversal follows
// identifiers in sorted order, so results are deterministic.
func (ix *Index) Cycles() [][]models.Identifier {
	s := ix.load()
	ids := make([]models.Identifier, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)

	visited := make(map[models.Identifier]bool)
	onStack := make(map[models.Identifier]bool)
	var (
		cycles [][]models.Identifier
		path   []models.Identifier
		visit  func(id models.Identifier)
	)
	visit = func(id models.Identifier) {
		if onStack[id] {
			start := slices.Index(path, id)
			cycle := slices.Clone(path[start:])
			cycles = append(cycles, append(cycle, id))
			return
		}
		if visited[id] {
			return
		}
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, ref := range s.forward[id] {
			if _, ok := s.byID[ref]; ok {
				visit(ref)
			}
		}
		path = path[:len(path)-1]
		onStack[id] = false
	}
	for _, id := range ids {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}

// duplicateIssues returns one issue per identifier defined more than once,
// in canonical identifier order.
func (s *snapshot) duplicateIssues() []apperr.Issue {
	var out []apperr.Issue
	var dups []models.Identifier
	for id, pos := range s.byID {
		if len(pos) > 1 {
			dups = append(dups, id)
		}
	}
	slices.SortFunc(dups, compareIDs)
	for _, id := range dups {
		var where []string
		for _, p := range s.byID[id] {
			e := s.elements[p]
			where = append(where, fmt.Sprintf("%s:%d", e.Document, e.Heading.StartLine+1))
		}
		first := s.elements[s.byID[id][0]]
		out = append(out, apperr.Issue{
			Kind:       apperr.KindDuplicate,
			Severity:   apperr.SeverityError,
			Identifier: id.String(),
			Document:   first.Document,
			Line:       first.Heading.StartLine + 1,
			Message:    fmt.Sprintf("%s is defined %d times: %s", id, len(where), strings.Join(where, ", ")),
		})
	}
	return out
}
