// Package workspace joins storage, the coordinated element index, the
// full-text mirror and the event broker into the service used by the API,
// the MCP server and the CLI.
package workspace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/coordinator"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/fulltext"
	"github.com/starford/specdex/internal/index"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/patch"
	"github.com/starford/specdex/internal/sse"
	"github.com/starford/specdex/internal/storage"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 20

// ElementDetail is the full representation of an element.
type ElementDetail struct {
	models.Element
	Backlinks []models.Identifier `json:"backlinks"`
	Resolved  map[string]bool     `json:"resolved"` // reference -> defined in the workspace
}

// Service coordinates storage, index and mirror operations.
type Service struct {
	store       storage.Provider
	ix          *index.Index
	coord       *coordinator.Coordinator
	mirror      fulltext.Mirror
	broker      *sse.Broker
	searchLimit int
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMirror keeps m in step with every applied change.
func WithMirror(m fulltext.Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithBroker publishes every applied change to b.
func WithBroker(b *sse.Broker) Option {
	return func(s *Service) { s.broker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSearchLimit sets the default search result cap.
func WithSearchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

// WithIndex uses ix instead of a default index.
func WithIndex(ix *index.Index) Option {
	return func(s *Service) { s.ix = ix }
}

// NewService creates a Service over store. Call Open to load the workspace
// and Close to stop the coordinator.
func NewService(store storage.Provider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		searchLimit: DefaultSearchLimit,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ix == nil {
		s.ix = index.New()
	}
	s.coord = coordinator.New(s.ix,
		coordinator.WithLogger(s.logger),
		coordinator.WithPatchSource(store),
		coordinator.WithPersist(s.persist),
		coordinator.WithListener(s.onEvent),
	)
	return s
}

// Open reads every document from storage and rebuilds the index from them.
// Unreadable documents are reported as failures, not errors.
func (s *Service) Open(ctx context.Context) (index.Report, error) {
	metas, err := s.store.List("")
	if err != nil {
		return index.Report{}, fmt.Errorf("workspace: list: %w", err)
	}
	inputs := make([]coordinator.Input, 0, len(metas))
	for _, m := range metas {
		data, err := s.store.Read(m.Path)
		if err != nil {
			s.logger.Warn("workspace: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		}
		inputs = append(inputs, coordinator.Input{ID: m.Path, Text: data, Err: err})
	}
	report, err := s.coord.Rebuild(ctx, inputs)
	if err != nil {
		return index.Report{}, fmt.Errorf("workspace: rebuild: %w", err)
	}
	s.logger.Info("workspace: opened",
		slog.String("root", s.store.Root()),
		slog.Int("documents", report.Documents),
		slog.Int("elements", report.Elements),
		slog.Int("failed", len(report.Failed)),
		slog.Int("duplicates", len(report.Duplicates)))
	return report, nil
}

// Close stops the coordinator.
func (s *Service) Close() error {
	return s.coord.Close()
}

// Index returns the element index.
func (s *Service) Index() *index.Index { return s.ix }

// Coordinator returns the writer that serialises index mutations.
func (s *Service) Coordinator() *coordinator.Coordinator { return s.coord }

// Store returns the storage provider.
func (s *Service) Store() storage.Provider { return s.store }

// GetElement returns the element with the given identifier text, enriched
// with backlinks and reference resolution.
func (s *Service) GetElement(_ context.Context, raw string) (*ElementDetail, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	e, err := s.ix.Lookup(id)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]bool, len(e.References))
	for _, ref := range e.References {
		resolved[ref.String()] = s.ix.Resolves(ref)
	}
	return &ElementDetail{
		Element:   e,
		Backlinks: nonNil(s.ix.BacklinksOf(id)),
		Resolved:  resolved,
	}, nil
}

// ListElements returns elements in canonical order. document and kind are
// optional filters; kind accepts a kind name or prefix.
func (s *Service) ListElements(_ context.Context, docID, kind string) ([]models.Element, error) {
	f := index.Filter{Document: docID}
	if kind != "" {
		k, ok := models.ParseKind(kind)
		if !ok {
			return nil, fmt.Errorf("workspace: unknown kind %q: %w", kind, apperr.ErrInvalid)
		}
		f.Kind = k
	}
	return nonNil(s.ix.List(f)), nil
}

// References returns the outgoing references of an element.
func (s *Service) References(_ context.Context, raw string) ([]models.Identifier, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	refs, err := s.ix.ReferencesOf(id)
	if err != nil {
		return nil, err
	}
	return nonNil(refs), nil
}

// Backlinks returns the elements that reference the identifier. Unknown
// identifiers have no backlinks rather than an error.
func (s *Service) Backlinks(_ context.Context, raw string) ([]models.Identifier, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return nonNil(s.ix.BacklinksOf(id)), nil
}

// Search ranks elements by identifier and title. limit <= 0 uses the
// configured default.
func (s *Service) Search(_ context.Context, query string, limit int) []index.Match {
	if limit <= 0 {
		limit = s.searchLimit
	}
	return nonNil(s.ix.Search(query, limit))
}

// FullText searches element bodies through the mirror.
func (s *Service) FullText(_ context.Context, query string, limit int) ([]fulltext.Hit, error) {
	if s.mirror == nil {
		return nil, fmt.Errorf("workspace: full-text search is disabled: %w", apperr.ErrInvalid)
	}
	if limit <= 0 {
		limit = s.searchLimit
	}
	hits, err := s.mirror.Search(query, limit)
	if err != nil {
		return nil, fmt.Errorf("workspace: full-text search: %w", err)
	}
	return nonNil(hits), nil
}

// Validate lists every issue in the workspace.
func (s *Service) Validate(_ context.Context) []apperr.Issue {
	return nonNil(s.ix.Validate())
}

// Stats summarises the index.
func (s *Service) Stats(_ context.Context) index.Stats {
	return s.ix.Stats()
}

// Cycles lists circular reference chains among defined elements.
func (s *Service) Cycles(_ context.Context) [][]models.Identifier {
	return nonNil(s.ix.Cycles())
}

// ReplaceBody replaces the body of an element and persists the document.
func (s *Service) ReplaceBody(ctx context.Context, raw, body string) (patch.Result, error) {
	id, err := parseID(raw)
	if err != nil {
		return patch.Result{}, err
	}
	return s.coord.ReplaceBody(ctx, id, body)
}

func (s *Service) persist(_ context.Context, docID string, text []byte) error {
	return s.store.Write(docID, text)
}

// onEvent runs on the coordinator's writer goroutine.
func (s *Service) onEvent(ev coordinator.Event) {
	switch ev.Kind {
	case coordinator.EventUpdated:
		if s.mirror != nil {
			if err := s.mirror.ReplaceDocument(ev.Doc); err != nil {
				s.logger.Warn("workspace: mirror replace failed", slog.String("document", ev.Document), slog.String("error", err.Error()))
			}
		}
	case coordinator.EventRemoved:
		if s.mirror != nil {
			if err := s.mirror.DeleteDocument(ev.Document); err != nil {
				s.logger.Warn("workspace: mirror delete failed", slog.String("document", ev.Document), slog.String("error", err.Error()))
			}
		}
	case coordinator.EventRebuilt:
		if s.mirror != nil {
			if err := fulltext.Sync(s.mirror, s.documents(), s.logger); err != nil {
				s.logger.Warn("workspace: mirror sync failed", slog.String("error", err.Error()))
			}
		}
		if s.broker != nil {
			s.broker.Publish(sse.Event{Type: sse.TypeIndexRebuilt, Data: map[string]uint64{"generation": ev.Generation}})
		}
		return
	}

	if s.broker == nil {
		return
	}
	c := sse.Change{
		Type:       string(ev.Kind),
		Document:   ev.Document,
		Generation: ev.Generation,
		Backlinks:  make([]string, 0, len(ev.ChangedBacklinks)),
	}
	for _, id := range ev.ChangedBacklinks {
		c.Backlinks = append(c.Backlinks, id.String())
	}
	if ev.Err != nil {
		c.Error = ev.Err.Error()
	}
	s.broker.PublishChange(c)
}

func (s *Service) documents() []*document.Document {
	ids := s.ix.Documents()
	out := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.ix.Document(id); ok {
			out = append(out, d)
		}
	}
	return out
}

func parseID(raw string) (models.Identifier, error) {
	id, err := models.ParseIdentifier(raw)
	if err != nil {
		return models.Identifier{}, fmt.Errorf("workspace: %w: %w", apperr.ErrInvalid, err)
	}
	return id, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
