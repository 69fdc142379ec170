package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/index"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/parser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const purposeDoc = "### R:Purpose\nBody text referencing C:Foo.\n### C:Foo\nImplements R:Purpose."

var (
	purpose = models.Identifier{Kind: models.KindRequirement, Name: "Purpose"}
	foo     = models.Identifier{Kind: models.KindComponent, Name: "Foo"}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	c := New(index.New(), append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

// gate is a ParseFunc that blocks the first parse of each rebuild or
// document until released, and counts the texts it parsed.
type gate struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	blocked bool
	parsed  []string
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) parse(docID, text string) *document.Document {
	g.mu.Lock()
	g.parsed = append(g.parsed, text)
	first := !g.blocked
	g.blocked = true
	g.mu.Unlock()
	if first {
		close(g.started)
		<-g.release
	}
	return parser.Parse(docID, text)
}

func (g *gate) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.parsed...)
}

func TestCoordinator_NotifyAppliesAndEmits(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	c := newCoordinator(t, WithListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	c.Notify("design.md", []byte(purposeDoc))
	require.NoError(t, c.Wait(context.Background()))

	assert.Equal(t, Clean, c.State("design.md"))
	assert.Equal(t, []models.Identifier{purpose}, c.Index().BacklinksOf(foo))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, EventUpdated, events[0].Kind)
	assert.Equal(t, "design.md", events[0].Document)
	assert.ElementsMatch(t, []models.Identifier{purpose, foo}, events[0].ChangedBacklinks)
	assert.Equal(t, uint64(1), events[0].Doc.Generation)
}

func TestCoordinator_Coalesces(t *testing.T) {
	g := newGate()
	c := newCoordinator(t, WithParser(g.parse))

	c.Notify("a.md", []byte("# R:A\nv1\n"))
	<-g.started
	c.Notify("a.md", []byte("# R:A\nv2\n"))
	c.Notify("a.md", []byte("# R:A\nv3\n"))
	c.Notify("a.md", []byte("# R:A\nv4\n"))
	assert.Equal(t, Dirty, c.State("a.md"))
	close(g.release)

	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, []string{"# R:A\nv1\n", "# R:A\nv4\n"}, g.texts())

	e, err := c.Index().Lookup(models.Identifier{Kind: models.KindRequirement, Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, "v4", e.Body)
	assert.Equal(t, Clean, c.State("a.md"))
}

func TestCoordinator_UnchangedContentIsNoop(t *testing.T) {
	var count int
	c := newCoordinator(t, WithListener(func(Event) { count++ }))

	c.Notify("a.md", []byte("# R:A\n"))
	c.Notify("b.md", []byte("# R:B\n"))
	require.NoError(t, c.Wait(context.Background()))
	gen := c.Index().Generation()

	c.Notify("a.md", []byte("# R:A\n"))
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, gen, c.Index().Generation())
	assert.Equal(t, 2, count)
}

func TestCoordinator_FailureKeepsLastGood(t *testing.T) {
	c := newCoordinator(t)
	c.Notify("a.md", []byte("# R:A\n"))
	c.NotifyFailure("b.md", errors.New("permission denied"))
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, ReparseFailed, c.State("b.md"))

	c.Notify("a.md", []byte("# R:A\n\xff\xfe\n"))
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, ReparseFailed, c.State("a.md"))
	_, err := c.Index().Lookup(models.Identifier{Kind: models.KindRequirement, Name: "A"})
	require.NoError(t, err, "last good document stays indexed")

	// The next notification restarts the cycle.
	c.Notify("a.md", []byte("# R:A\n"))
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, Clean, c.State("a.md"))
	assert.NotContains(t, c.Index().Failures(), "a.md")
}

func TestCoordinator_Removed(t *testing.T) {
	c := newCoordinator(t)
	c.Notify("design.md", []byte(purposeDoc))
	c.NotifyRemoved("design.md")
	require.NoError(t, c.Wait(context.Background()))

	_, ok := c.Index().Document("design.md")
	assert.False(t, ok)
}

func TestCoordinator_RebuildSuperseded(t *testing.T) {
	g := newGate()
	c := newCoordinator(t, WithParser(g.parse))

	first := make(chan error, 1)
	go func() {
		_, err := c.Rebuild(context.Background(), []Input{
			{ID: "old.md", Text: []byte("# R:Old\n")},
			{ID: "old2.md", Text: []byte("# R:Old2\n")},
		})
		first <- err
	}()
	<-g.started

	second := make(chan error, 1)
	go func() {
		rep, err := c.Rebuild(context.Background(), []Input{{ID: "new.md", Text: []byte("# R:New\n")}})
		if err == nil && rep.Elements != 1 {
			err = errors.New("unexpected report")
		}
		second <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 1
	}, time.Second, time.Millisecond)
	close(g.release)

	assert.ErrorIs(t, <-first, apperr.ErrSuperseded)
	require.NoError(t, <-second)
	assert.Equal(t, []string{"new.md"}, c.Index().Documents())
}

func TestCoordinator_RebuildFailureFlagged(t *testing.T) {
	c := newCoordinator(t)
	rep, err := c.Rebuild(context.Background(), []Input{
		{ID: "a.md", Text: []byte(purposeDoc)},
		{ID: "b.md", Err: errors.New("io error")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, rep.Failed)
	assert.Equal(t, ReparseFailed, c.State("b.md"))
	assert.Equal(t, Clean, c.State("a.md"))
}

type memStore struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memStore) Read(docID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[docID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return []byte(s), nil
}

func (m *memStore) persist(_ context.Context, docID string, text []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[docID] = string(text)
	return nil
}

func TestCoordinator_ReplaceBody(t *testing.T) {
	store := &memStore{files: map[string]string{"design.md": purposeDoc}}
	c := newCoordinator(t, WithPatchSource(store), WithPersist(store.persist))
	_, err := c.Rebuild(context.Background(), []Input{{ID: "design.md", Text: []byte(purposeDoc)}})
	require.NoError(t, err)

	res, err := c.ReplaceBody(context.Background(), purpose, "New body, no refs.")
	require.NoError(t, err)
	assert.Contains(t, res.Diff, "+New body, no refs.")
	assert.Equal(t, res.UpdatedText, store.files["design.md"])

	refs, err := c.Index().ReferencesOf(purpose)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.NotContains(t, c.Index().BacklinksOf(foo), purpose)

	// The watcher echo of the persisted write is a no-op.
	gen := c.Index().Generation()
	c.Notify("design.md", []byte(res.UpdatedText))
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, gen, c.Index().Generation())
}

func TestCoordinator_ReplaceBodyConflictLeavesIndex(t *testing.T) {
	store := &memStore{files: map[string]string{"design.md": purposeDoc + "\nexternal edit"}}
	persisted := false
	c := newCoordinator(t, WithPatchSource(store), WithPersist(func(context.Context, string, []byte) error {
		persisted = true
		return nil
	}))
	_, err := c.Rebuild(context.Background(), []Input{{ID: "design.md", Text: []byte(purposeDoc)}})
	require.NoError(t, err)
	before, _ := c.Index().Document("design.md")

	_, err = c.ReplaceBody(context.Background(), purpose, "x")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.False(t, persisted)
	after, _ := c.Index().Document("design.md")
	assert.Same(t, before, after)
}

func TestCoordinator_ReplaceBodyPersistError(t *testing.T) {
	c := newCoordinator(t, WithPersist(func(context.Context, string, []byte) error {
		return errors.New("disk full")
	}))
	_, err := c.Rebuild(context.Background(), []Input{{ID: "design.md", Text: []byte(purposeDoc)}})
	require.NoError(t, err)

	_, err = c.ReplaceBody(context.Background(), purpose, "x")
	require.Error(t, err)
	refs, _ := c.Index().ReferencesOf(purpose)
	assert.Equal(t, []models.Identifier{foo}, refs)
}

func TestCoordinator_Closed(t *testing.T) {
	c := New(index.New(), WithLogger(quietLogger()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.ReplaceBody(context.Background(), purpose, "x")
	assert.ErrorIs(t, err, apperr.ErrClosed)
	c.Notify("a.md", []byte("# R:A\n"))
	assert.ErrorIs(t, c.Wait(context.Background()), apperr.ErrClosed)
}
