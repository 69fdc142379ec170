// Package coordinator serialises every mutation of an index through a single
// writer goroutine: change notifications, full rebuilds and body patches.
//
// Notifications never block. Rapid notifications for one document coalesce,
// so only the latest text at the moment re-parsing starts is parsed.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/index"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/parser"
	"github.com/starford/specdex/internal/patch"
)

// State is the lifecycle state of one tracked document.
type State int

const (
	Clean State = iota
	Dirty
	Reparsing
	ReparseFailed
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Reparsing:
		return "reparsing"
	case ReparseFailed:
		return "reparse_failed"
	}
	return "unknown"
}

// EventKind names what an Event reports.
type EventKind string

const (
	EventUpdated EventKind = "document.updated"
	EventRemoved EventKind = "document.removed"
	EventFailed  EventKind = "document.failed"
	EventRebuilt EventKind = "index.rebuilt"
)

// Event is delivered to listeners after each applied mutation.
type Event struct {
	Kind             EventKind
	Document         string
	Generation       uint64
	ChangedBacklinks []models.Identifier
	Doc              *document.Document // nil for removals, failures and rebuilds
	Err              error
}

// Listener receives events on the writer goroutine and must not block.
type Listener func(Event)

// PersistFunc stores patched document text. It runs before the patch is
// applied to the index; an error leaves the index untouched.
type PersistFunc func(ctx context.Context, docID string, text []byte) error

// ParseFunc parses one document.
type ParseFunc func(docID, text string) *document.Document

// Input is one raw document handed to Rebuild. Err marks a document the
// storage layer failed to read.
type Input struct {
	ID   string
	Text []byte
	Err  error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithListener adds an event listener.
func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

// WithPersist sets the function that stores patched text.
func WithPersist(p PersistFunc) Option {
	return func(c *Coordinator) { c.persist = p }
}

// WithPatchSource sets where the patch writer reads stored content for its
// conflict check.
func WithPatchSource(src patch.Source) Option {
	return func(c *Coordinator) { c.writer = patch.NewWriter(src) }
}

// WithParser replaces parser.Parse.
func WithParser(p ParseFunc) Option {
	return func(c *Coordinator) { c.parse = p }
}

type change struct {
	text    string
	removed bool
	err     error
}

type jobKind int

const (
	jobReparse jobKind = iota
	jobRebuild
	jobReplace
	jobBarrier
)

type job struct {
	kind   jobKind
	ctx    context.Context
	doc    string
	seq    uint64
	inputs []Input
	id     models.Identifier
	body   string
	reply  chan result
}

type result struct {
	report index.Report
	patch  patch.Result
	err    error
}

// Coordinator owns the single writer of one index.
type Coordinator struct {
	ix        *index.Index
	writer    *patch.Writer
	persist   PersistFunc
	parse     ParseFunc
	logger    *slog.Logger
	listeners []Listener

	mu         sync.Mutex
	queue      []*job
	pending    map[string]change // latest unprocessed change per document
	queued     map[string]bool   // document has a reparse job in queue
	states     map[string]State
	rebuildSeq uint64
	closed     bool

	signal chan struct{}
	done   chan struct{}
}

// New starts a Coordinator for ix. Call Close to stop it.
func New(ix *index.Index, opts ...Option) *Coordinator {
	c := &Coordinator{
		ix:      ix,
		writer:  patch.NewWriter(nil),
		parse:   parser.Parse,
		logger:  slog.Default(),
		pending: make(map[string]change),
		queued:  make(map[string]bool),
		states:  make(map[string]State),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Index returns the coordinated index.
func (c *Coordinator) Index() *index.Index { return c.ix }

// Notify records new text for docID and schedules a re-parse.
func (c *Coordinator) Notify(docID string, text []byte) {
	c.enqueueChange(docID, change{text: string(text)})
}

// NotifyRemoved schedules removal of docID from the index.
func (c *Coordinator) NotifyRemoved(docID string) {
	c.enqueueChange(docID, change{removed: true})
}

// NotifyFailure records that docID could not be read. Its last good
// Document stays indexed and the document is flagged.
func (c *Coordinator) NotifyFailure(docID string, err error) {
	c.enqueueChange(docID, change{err: err})
}

func (c *Coordinator) enqueueChange(docID string, ch change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("coordinator: notification after close", slog.String("document", docID))
		return
	}
	c.pending[docID] = ch
	c.states[docID] = Dirty
	if c.queued[docID] {
		return
	}
	c.queued[docID] = true
	c.push(&job{kind: jobReparse, doc: docID})
}

// Rebuild replaces the whole index with inputs. A newer Rebuild supersedes
// this one, which then returns apperr.ErrSuperseded.
func (c *Coordinator) Rebuild(ctx context.Context, inputs []Input) (index.Report, error) {
	c.mu.Lock()
	c.rebuildSeq++
	j := &job{kind: jobRebuild, ctx: ctx, seq: c.rebuildSeq, inputs: inputs, reply: make(chan result, 1)}
	c.mu.Unlock()

	res, err := c.submit(ctx, j)
	if err != nil {
		return index.Report{}, err
	}
	return res.report, res.err
}

// ReplaceBody patches the body of id, persists the new text when a
// PersistFunc is configured, and applies it through the re-parse path.
func (c *Coordinator) ReplaceBody(ctx context.Context, id models.Identifier, body string) (patch.Result, error) {
	j := &job{kind: jobReplace, ctx: ctx, id: id, body: body, reply: make(chan result, 1)}
	res, err := c.submit(ctx, j)
	if err != nil {
		return patch.Result{}, err
	}
	return res.patch, res.err
}

// Wait blocks until every mutation queued before the call has been applied.
func (c *Coordinator) Wait(ctx context.Context) error {
	_, err := c.submit(ctx, &job{kind: jobBarrier, ctx: ctx, reply: make(chan result, 1)})
	return err
}

// State returns the lifecycle state of docID. Untracked documents are Clean.
func (c *Coordinator) State(docID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[docID]
}

// Close stops the writer. Queued jobs fail with apperr.ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.wake()
	}
	c.mu.Unlock()
	<-c.done
	return nil
}

func (c *Coordinator) submit(ctx context.Context, j *job) (result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return result{}, apperr.ErrClosed
	}
	c.push(j)
	c.mu.Unlock()

	select {
	case res := <-j.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// push appends j to the queue. c.mu must be held.
func (c *Coordinator) push(j *job) {
	c.queue = append(c.queue, j)
	c.wake()
}

func (c *Coordinator) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		j, ok := c.next()
		if !ok {
			return
		}
		c.exec(j)
	}
}

// next pops the head of the queue, waiting for work. After Close it fails
// every queued job and reports false.
func (c *Coordinator) next() (*job, bool) {
	for {
		c.mu.Lock()
		if c.closed {
			for _, j := range c.queue {
				if j.reply != nil {
					j.reply <- result{err: apperr.ErrClosed}
				}
			}
			c.queue = nil
			c.mu.Unlock()
			return nil, false
		}
		if len(c.queue) > 0 {
			j := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return j, true
		}
		c.mu.Unlock()
		<-c.signal
	}
}

func (c *Coordinator) exec(j *job) {
	switch j.kind {
	case jobReparse:
		c.mu.Lock()
		ch, ok := c.pending[j.doc]
		delete(c.pending, j.doc)
		delete(c.queued, j.doc)
		if ok {
			c.states[j.doc] = Reparsing
		}
		c.mu.Unlock()
		if ok {
			c.apply(j.doc, ch)
		}
	case jobRebuild:
		report, err := c.rebuild(j)
		j.reply <- result{report: report, err: err}
	case jobReplace:
		res, err := c.replaceBody(j)
		j.reply <- result{patch: res, err: err}
	case jobBarrier:
		j.reply <- result{}
	}
}

func (c *Coordinator) setState(docID string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dirty := c.pending[docID]; dirty {
		// A newer notification arrived while this one was processed.
		return
	}
	if s == Clean {
		delete(c.states, docID)
		return
	}
	c.states[docID] = s
}

func (c *Coordinator) emit(ev Event) {
	for _, l := range c.listeners {
		l(ev)
	}
}

// apply runs one document change on the writer goroutine.
func (c *Coordinator) apply(docID string, ch change) {
	switch {
	case ch.err != nil:
		c.fail(docID, ch.err)
	case ch.removed:
		delta := c.ix.ApplyIncremental(docID, nil)
		c.setState(docID, Clean)
		c.logger.Debug("coordinator: removed", slog.String("document", docID))
		c.emit(Event{Kind: EventRemoved, Document: docID, Generation: delta.Generation, ChangedBacklinks: delta.ChangedBacklinks})
	default:
		c.reparse(docID, ch.text)
	}
}

func (c *Coordinator) fail(docID string, err error) {
	c.ix.MarkFailed(docID, err)
	c.setState(docID, ReparseFailed)
	c.logger.Warn("coordinator: reparse failed, keeping last good document",
		slog.String("document", docID),
		slog.String("error", err.Error()))
	c.emit(Event{Kind: EventFailed, Document: docID, Generation: c.ix.Generation(), Err: err})
}

// reparse parses text and applies it, unless it equals the indexed content.
func (c *Coordinator) reparse(docID, text string) {
	if cur, ok := c.ix.Document(docID); ok && cur.SameContent(text) {
		if _, failed := c.ix.Failures()[docID]; !failed {
			c.setState(docID, Clean)
			return
		}
	}
	if !utf8.ValidString(text) {
		c.fail(docID, fmt.Errorf("coordinator: %s is not valid UTF-8", docID))
		return
	}

	doc := c.parse(docID, text)
	doc.Generation = c.ix.Generation() + 1
	delta := c.ix.ApplyIncremental(docID, doc)
	c.setState(docID, Clean)
	c.logger.Debug("coordinator: reparsed",
		slog.String("document", docID),
		slog.Int("elements", len(doc.Elements)),
		slog.Int("changed_backlinks", len(delta.ChangedBacklinks)))
	c.emit(Event{
		Kind:             EventUpdated,
		Document:         docID,
		Generation:       delta.Generation,
		ChangedBacklinks: delta.ChangedBacklinks,
		Doc:              doc,
	})
}

func (c *Coordinator) superseded(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildSeq != seq
}

func (c *Coordinator) rebuild(j *job) (index.Report, error) {
	sources := make([]index.Source, 0, len(j.inputs))
	for _, in := range j.inputs {
		if c.superseded(j.seq) {
			return index.Report{}, apperr.ErrSuperseded
		}
		if err := j.ctx.Err(); err != nil {
			return index.Report{}, err
		}
		switch {
		case in.Err != nil:
			sources = append(sources, index.Source{ID: in.ID, Err: in.Err})
		case !utf8.Valid(in.Text):
			sources = append(sources, index.Source{ID: in.ID, Err: fmt.Errorf("coordinator: %s is not valid UTF-8", in.ID)})
		default:
			doc := c.parse(in.ID, string(in.Text))
			doc.Generation = c.ix.Generation() + 1
			sources = append(sources, index.Source{ID: in.ID, Doc: doc})
		}
	}
	if c.superseded(j.seq) {
		return index.Report{}, apperr.ErrSuperseded
	}
	if err := j.ctx.Err(); err != nil {
		return index.Report{}, err
	}

	report := c.ix.Rebuild(sources)
	failed := make(map[string]bool, len(report.Failed))
	for _, id := range report.Failed {
		failed[id] = true
	}
	c.mu.Lock()
	for _, src := range sources {
		if _, dirty := c.pending[src.ID]; dirty {
			continue
		}
		if failed[src.ID] {
			c.states[src.ID] = ReparseFailed
		} else {
			delete(c.states, src.ID)
		}
	}
	c.mu.Unlock()

	c.logger.Info("coordinator: rebuilt index",
		slog.Int("documents", report.Documents),
		slog.Int("elements", report.Elements),
		slog.Int("failed", len(report.Failed)))
	c.emit(Event{Kind: EventRebuilt, Generation: report.Generation})
	return report, nil
}

func (c *Coordinator) replaceBody(j *job) (patch.Result, error) {
	if err := j.ctx.Err(); err != nil {
		return patch.Result{}, err
	}
	doc, _, err := c.ix.Locate(j.id)
	if err != nil {
		return patch.Result{}, err
	}
	res, err := c.writer.ReplaceBody(doc, j.id, j.body)
	if err != nil {
		return patch.Result{}, err
	}
	if c.persist != nil {
		if err := c.persist(j.ctx, doc.ID, []byte(res.UpdatedText)); err != nil {
			return patch.Result{}, fmt.Errorf("coordinator: persist %s: %w", doc.ID, err)
		}
	}

	c.mu.Lock()
	c.states[doc.ID] = Reparsing
	c.mu.Unlock()
	c.reparse(doc.ID, res.UpdatedText)
	c.logger.Info("coordinator: body replaced",
		slog.String("identifier", j.id.String()),
		slog.String("document", doc.ID))
	return res, nil
}
